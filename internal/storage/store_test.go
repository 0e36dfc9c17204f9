package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"singleschedule/internal/task"
	logx "singleschedule/pkg/logx"
)

var drivers = []string{"file", "sqlite"}

func openTest(t *testing.T, driver string) (Store, string) {
	t.Helper()
	name := "tasks.json"
	if driver == "sqlite" {
		name = "tasks.db"
	}
	path := filepath.Join(t.TempDir(), name)
	st, err := Open(Config{
		Driver:      driver,
		Path:        path,
		LockTimeout: 5 * time.Second,
		Validate: func(tk task.Task) error {
			if strings.Contains(tk.Cron, "bad") {
				return errors.New("invalid cron expression")
			}
			return nil
		},
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func sampleTask(slug string) task.Task {
	return task.Task{
		Slug:      slug,
		Cron:      "0 * * * * *",
		Command:   task.Command{Program: "/bin/echo", Args: []string{"hi", slug}},
		Active:    true,
		CreatedAt: time.Date(2024, time.January, 1, 12, 0, 0, 123456789, time.UTC),
	}
}

func TestLoadMissingIsEmpty(t *testing.T) {
	t.Parallel()
	for _, d := range drivers {
		st, _ := openTest(t, d)
		tasks, err := st.Load(context.Background())
		if err != nil {
			t.Fatalf("%s: Load: %v", d, err)
		}
		if len(tasks) != 0 {
			t.Fatalf("%s: got %d tasks", d, len(tasks))
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	for _, d := range drivers {
		st, _ := openTest(t, d)
		ctx := context.Background()

		a := sampleTask("a")
		b := sampleTask("b")
		pid := 4242
		last := time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC)
		b.PID = &pid
		b.LastRun = &last
		b.Active = false
		c := sampleTask("c")
		c.Command.Args = nil

		if err := st.Save(ctx, []task.Task{a, b, c}); err != nil {
			t.Fatalf("%s: Save: %v", d, err)
		}
		first, err := st.Load(ctx)
		if err != nil {
			t.Fatalf("%s: Load: %v", d, err)
		}
		if err := st.Save(ctx, first); err != nil {
			t.Fatalf("%s: re-Save: %v", d, err)
		}
		second, err := st.Load(ctx)
		if err != nil {
			t.Fatalf("%s: re-Load: %v", d, err)
		}

		for _, got := range [][]task.Task{first, second} {
			if len(got) != 3 || got[0].Slug != "a" || got[1].Slug != "b" || got[2].Slug != "c" {
				t.Fatalf("%s: order = %+v", d, got)
			}
			if !got[0].CreatedAt.Equal(a.CreatedAt) {
				t.Fatalf("%s: created_at = %v", d, got[0].CreatedAt)
			}
			if got[1].PID == nil || *got[1].PID != pid || got[1].Active {
				t.Fatalf("%s: task b = %+v", d, got[1])
			}
			if got[1].LastRun == nil || !got[1].LastRun.Equal(last) {
				t.Fatalf("%s: last_run = %v", d, got[1].LastRun)
			}
			if got[0].PID != nil || got[0].LastRun != nil {
				t.Fatalf("%s: task a should have no pid/last_run", d)
			}
			if got[0].Command.String() != "/bin/echo hi a" || got[2].Command.String() != "/bin/echo hi c" {
				t.Fatalf("%s: commands = %q %q", d, got[0].Command, got[2].Command)
			}
		}
	}
}

func TestSaveRejectsInvalidSet(t *testing.T) {
	t.Parallel()
	for _, d := range drivers {
		st, _ := openTest(t, d)
		ctx := context.Background()
		if err := st.Save(ctx, []task.Task{sampleTask("a")}); err != nil {
			t.Fatal(err)
		}

		err := st.Save(ctx, []task.Task{sampleTask("x"), sampleTask("x")})
		if !errors.Is(err, task.ErrDuplicateSlug) {
			t.Fatalf("%s: duplicate Save error = %v", d, err)
		}
		bad := sampleTask("bad")
		bad.Cron = "bad cron"
		if err := st.Save(ctx, []task.Task{bad}); err == nil {
			t.Fatalf("%s: invalid cron accepted", d)
		}

		tasks, _ := st.Load(ctx)
		if len(tasks) != 1 || tasks[0].Slug != "a" {
			t.Fatalf("%s: store changed after failed Save: %+v", d, tasks)
		}
	}
}

func TestUpdateAbortWritesNothing(t *testing.T) {
	t.Parallel()
	for _, d := range drivers {
		st, _ := openTest(t, d)
		ctx := context.Background()
		if err := st.Save(ctx, []task.Task{sampleTask("a")}); err != nil {
			t.Fatal(err)
		}

		err := st.Update(ctx, func(tasks []task.Task) ([]task.Task, error) {
			tasks[0].Active = false
			return task.Delete(tasks, "missing")
		})
		if !errors.Is(err, task.ErrNotFound) {
			t.Fatalf("%s: Update error = %v", d, err)
		}
		tasks, _ := st.Load(ctx)
		if !tasks[0].Active {
			t.Fatalf("%s: aborted update was written", d)
		}
	}
}

func TestConcurrentUpdatesKeepEveryChange(t *testing.T) {
	t.Parallel()
	for _, d := range drivers {
		st, _ := openTest(t, d)
		ctx := context.Background()

		const n = 16
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- st.Update(ctx, func(tasks []task.Task) ([]task.Task, error) {
					return task.Insert(tasks, sampleTask(fmt.Sprintf("t%02d", i)))
				})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("%s: Update: %v", d, err)
			}
		}
		tasks, err := st.Load(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(tasks) != n {
			t.Fatalf("%s: %d tasks after %d concurrent inserts", d, len(tasks), n)
		}
	}
}

func TestFileLoadCorrupt(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{nope"},
		{name: "empty", body: ""},
		{name: "future version", body: `{"version":"2.0.0","tasks":[]}`},
		{name: "missing version", body: `{"tasks":[]}`},
		{name: "duplicate slug", body: `{"version":"1.0.0","tasks":[
			{"slug":"a","cron":"* * * * * *","command":{"program":"true"},"active":true,"pid":null,"created_at":"2024-01-01T00:00:00Z","last_run":null},
			{"slug":"a","cron":"* * * * * *","command":{"program":"true"},"active":true,"pid":null,"created_at":"2024-01-01T00:00:00Z","last_run":null}]}`},
		{name: "invalid cron", body: `{"version":"1.0.0","tasks":[
			{"slug":"a","cron":"bad","command":{"program":"true"},"active":true,"pid":null,"created_at":"2024-01-01T00:00:00Z","last_run":null}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st, path := openTest(t, "file")
			if err := os.WriteFile(path, []byte(tt.body), 0o600); err != nil {
				t.Fatal(err)
			}
			_, err := st.Load(context.Background())
			if !errors.Is(err, task.ErrCorrupt) {
				t.Fatalf("Load error = %v, want corrupt", err)
			}
			if errors.Is(err, task.ErrDuplicateSlug) {
				t.Fatalf("corrupt error should not also report duplicate slug: %v", err)
			}
		})
	}
}

func TestFileLoadAcceptsMinorVersion(t *testing.T) {
	t.Parallel()
	st, path := openTest(t, "file")
	body := `{"version":"1.4.0","tasks":[{"slug":"a","cron":"* * * * * *","command":{"program":"true"},"active":true,"pid":null,"created_at":"2024-01-01T00:00:00Z","last_run":null}]}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	tasks, err := st.Load(context.Background())
	if err != nil || len(tasks) != 1 {
		t.Fatalf("Load = %v, %v", tasks, err)
	}
}

func TestFileLoadUnreadableIsIO(t *testing.T) {
	t.Parallel()
	st, path := openTest(t, "file")
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatal(err)
	}
	_, err := st.Load(context.Background())
	if !errors.Is(err, task.ErrIO) {
		t.Fatalf("Load error = %v, want io", err)
	}
}

func TestFileSaveFailureIsIO(t *testing.T) {
	t.Parallel()
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	st, path := openTest(t, "file")
	dir := filepath.Dir(path)
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(dir, 0o755)

	err := st.Save(context.Background(), []task.Task{sampleTask("a")})
	if !errors.Is(err, task.ErrIO) {
		t.Fatalf("Save error = %v, want io", err)
	}
}

func TestFileDocumentShape(t *testing.T) {
	t.Parallel()
	st, path := openTest(t, "file")
	if err := st.Save(context.Background(), []task.Task{sampleTask("a")}); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"version": "1.0.0"`, `"slug": "a"`, `"pid": null`, `"program": "/bin/echo"`} {
		if !strings.Contains(string(b), want) {
			t.Fatalf("document missing %s:\n%s", want, b)
		}
	}
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".tasks.json.*.tmp"))
	if len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}

func TestAppendAudit(t *testing.T) {
	t.Parallel()
	for _, d := range drivers {
		st, path := openTest(t, d)
		code := 3
		entries := []AuditEntry{
			{Slug: "a", Action: ActionLaunch, PID: 10, RunID: "r1"},
			{Slug: "a", Action: ActionExit, PID: 10, RunID: "r1", ExitCode: &code},
		}
		for _, e := range entries {
			if err := st.AppendAudit(context.Background(), e); err != nil {
				t.Fatalf("%s: AppendAudit: %v", d, err)
			}
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := st.AppendAudit(ctx, AuditEntry{Slug: "a", Action: ActionLaunch}); err == nil {
			t.Fatalf("%s: AppendAudit with canceled context succeeded", d)
		}
		if d == "file" {
			b, err := os.ReadFile(strings.TrimSuffix(path, ".json") + ".audit.jsonl")
			if err != nil {
				t.Fatal(err)
			}
			lines := strings.Split(strings.TrimSpace(string(b)), "\n")
			if len(lines) != 2 || !strings.Contains(lines[1], `"exit_code":3`) {
				t.Fatalf("audit journal = %q", b)
			}
		}
	}
}
