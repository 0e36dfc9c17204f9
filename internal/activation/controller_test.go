package activation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"singleschedule/internal/storage"
	"singleschedule/internal/task"
	logx "singleschedule/pkg/logx"
)

func setup(t *testing.T, tasks ...task.Task) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "tasks.json")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Save(context.Background(), tasks); err != nil {
		t.Fatal(err)
	}
	return st
}

func mk(slug string, active bool) task.Task {
	return task.Task{
		Slug:      slug,
		Cron:      "* * * * * *",
		Command:   task.Command{Program: "true"},
		Active:    active,
		CreatedAt: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSelectiveActivation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		running bool
		want    task.DaemonAction
	}{
		{name: "daemon running", running: true, want: task.NoAction},
		{name: "daemon stopped", running: false, want: task.StartDaemon},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := setup(t, mk("a", true), mk("b", false))
			c := New(st, ProbeFunc(func() bool { return tt.running }), logx.Nop())

			got, err := c.SetActive(context.Background(), []string{"b"}, true)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("action = %v, want %v", got, tt.want)
			}
			tasks, _ := st.Load(context.Background())
			if !tasks[0].Active || !tasks[1].Active {
				t.Fatalf("tasks = %+v", tasks)
			}
		})
	}
}

func TestUnknownSlugAbortsBatch(t *testing.T) {
	t.Parallel()
	st := setup(t, mk("a", false), mk("b", false))
	c := New(st, ProbeFunc(func() bool { return false }), logx.Nop())

	_, err := c.SetActive(context.Background(), []string{"a", "ghost", "b", "phantom"}, true)
	if !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("error = %v, want not found", err)
	}
	var se *task.StoreError
	if !errors.As(err, &se) || len(se.Slugs) != 2 {
		t.Fatalf("error = %#v, want both missing slugs", err)
	}
	tasks, _ := st.Load(context.Background())
	if tasks[0].Active || tasks[1].Active {
		t.Fatal("partial batch was applied")
	}
}

func TestStoppingLastTaskStopsDaemon(t *testing.T) {
	t.Parallel()
	st := setup(t, mk("a", true), mk("b", false))
	c := New(st, ProbeFunc(func() bool { return true }), logx.Nop())

	got, err := c.SetActive(context.Background(), []string{"a"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if got != task.StopDaemon {
		t.Fatalf("action = %v, want stop_daemon", got)
	}
}

func TestSetAllActiveAndPlan(t *testing.T) {
	t.Parallel()
	st := setup(t, mk("a", false), mk("b", false))
	running := false
	c := New(st, ProbeFunc(func() bool { return running }), logx.Nop())
	ctx := context.Background()

	if got, _ := c.Plan(ctx); got != task.NoAction {
		t.Fatalf("plan with nothing active = %v", got)
	}
	got, err := c.SetAllActive(ctx, true)
	if err != nil || got != task.StartDaemon {
		t.Fatalf("SetAllActive(true) = %v, %v", got, err)
	}
	running = true
	got, err = c.SetAllActive(ctx, false)
	if err != nil || got != task.StopDaemon {
		t.Fatalf("SetAllActive(false) = %v, %v", got, err)
	}
	if got, _ := c.Plan(ctx); got != task.StopDaemon {
		t.Fatalf("plan = %v, want stop_daemon", got)
	}
}
