//go:build unix

package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"singleschedule/internal/daemon"
	"singleschedule/internal/scheduler"
	"singleschedule/internal/task"
	logx "singleschedule/pkg/logx"
)

func TestRunDaemonLoopLaunchesAndStops(t *testing.T) {
	a := newTestApp(t, Options{Daemon: true})
	ctx := context.Background()
	if err := a.Add(ctx, "tick", "* * * * * *", []string{"true"}, true); err != nil {
		t.Fatalf("add: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.RunDaemonLoop(runCtx) }()

	deadline := time.Now().Add(10 * time.Second)
	for {
		tasks, err := a.List(ctx)
		if err == nil && len(tasks) == 1 && tasks[0].LastRun != nil {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("task never launched: %+v %v", tasks, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !a.IsDaemonRunning() {
		t.Fatal("marker not held while the daemon runs")
	}
	if _, err := daemon.Acquire(a.Paths()); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("second acquire err = %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunDaemonLoop: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	if a.IsDaemonRunning() {
		t.Fatal("marker still held after stop")
	}

	b, err := os.ReadFile(filepath.Join(a.Paths().LogDir, "tick.log"))
	if err != nil {
		t.Fatalf("child log: %v", err)
	}
	if !strings.Contains(string(b), "true") {
		t.Fatalf("child log missing header: %q", b)
	}
}

func TestRunDaemonLoopHaltsOnCorruptStore(t *testing.T) {
	a := newTestApp(t, Options{Daemon: true})
	if err := os.WriteFile(a.StorePath(), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("corrupt store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.RunDaemonLoop(ctx)
	if !errors.Is(err, task.ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
	if a.IsDaemonRunning() {
		t.Fatal("marker still held after halt")
	}
}

func TestApplyConfigSwitchesTimezone(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, Options{Daemon: true})
	loop := scheduler.NewLoop(a.Store(), nil, a.Location(), logx.Nop())

	next := *a.Config()
	next.Scheduler.Timezone = "UTC"
	a.applyConfig(&next, loop, logx.Nop())

	if a.Location().String() != "UTC" {
		t.Fatalf("location = %v", a.Location())
	}
	if a.Config().Scheduler.Timezone != "UTC" {
		t.Fatal("config not committed")
	}
}
