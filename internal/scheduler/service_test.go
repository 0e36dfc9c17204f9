package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"singleschedule/internal/eventbus"
	"singleschedule/internal/task"
	logx "singleschedule/pkg/logx"
)

func TestServiceRunsTicksUntilCancelled(t *testing.T) {
	t.Parallel()
	st, path := openStore(t)
	ctx := context.Background()
	stale := 31337
	tk := newTask("every", "* * * * * *", true)
	tk.PID = &stale
	_ = st.Save(ctx, []task.Task{tk})

	bus := eventbus.New()
	fl := newFakeLauncher()
	svc := NewService(NewLoop(st, fl, time.UTC, logx.Nop()), st, bus, logx.Nop())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- svc.Run(runCtx) }()

	time.Sleep(2500 * time.Millisecond)
	bus.Publish(eventbus.Event{Type: eventbus.TypeTaskExited, Data: eventbus.ExitEvent{Slug: "every", PID: 1001, ExitCode: 2, RunID: "run-1001"}})
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if n := fl.launches(); n < 2 {
		t.Fatalf("launches = %d, want at least 2", n)
	}
	for _, c := range fl.calls {
		if c == "probe:31337" {
			t.Fatal("pid from a previous daemon must be reset, not probed")
		}
	}

	b, err := os.ReadFile(filepath.Join(filepath.Dir(path), "tasks.audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"action":"exit"`) || !strings.Contains(string(b), `"exit_code":2`) {
		t.Fatalf("audit = %s", b)
	}
}

func TestServiceHaltsOnCorruptStore(t *testing.T) {
	t.Parallel()
	st, path := openStore(t)
	svc := NewService(NewLoop(st, newFakeLauncher(), time.UTC, logx.Nop()), st, nil, logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	// Corrupt the store once the daemon is up.
	time.Sleep(300 * time.Millisecond)
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, task.ErrCorrupt) {
			t.Fatalf("Run = %v, want corrupt", err)
		}
	case <-ctx.Done():
		t.Fatal("Run kept going on a corrupt store")
	}
}

func TestCronLoggerFields(t *testing.T) {
	t.Parallel()
	fields := kvFields([]interface{}{"entry", 1, "now", "x", "dangling"})
	if len(fields) != 2 {
		t.Fatalf("fields = %d, want 2", len(fields))
	}
}
