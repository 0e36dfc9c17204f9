package launcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"singleschedule/internal/eventbus"
	"singleschedule/internal/task"
	logx "singleschedule/pkg/logx"
)

// Launcher is what the scheduler loop needs to start and probe processes.
type Launcher interface {
	Launch(ctx context.Context, slug string, cmd task.Command) (Run, error)
	IsAlive(pid int) bool
}

// Run identifies one started process.
type Run struct {
	RunID   string
	PID     int
	LogPath string
}

type Config struct {
	// LogDir receives <slug>.log. Empty discards child output.
	LogDir string
	// InheritEnv passes the daemon's environment to children. When false
	// children only get a default PATH.
	InheritEnv bool
}

const defaultPath = "PATH=/usr/local/bin:/usr/bin:/bin"

// Exec launches commands with os/exec.
type Exec struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	reapers sync.WaitGroup
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Exec {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Exec{cfg: cfg, log: log, bus: bus}
}

// Launch starts cmd and returns once the process exists. It never waits
// for the command to finish.
func (e *Exec) Launch(ctx context.Context, slug string, cmd task.Command) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, &task.LaunchError{Slug: slug, Program: cmd.Program, Reason: "cancelled", Err: err}
	}
	if cmd.IsZero() {
		return Run{}, &task.LaunchError{Slug: slug, Reason: "empty command"}
	}

	path, err := exec.LookPath(cmd.Program)
	if err != nil {
		return Run{}, &task.LaunchError{Slug: slug, Program: cmd.Program, Reason: classify(err), Err: err}
	}

	run := Run{RunID: uuid.NewString()}

	// Children outlive the tick that started them, so no CommandContext.
	c := exec.Command(path, cmd.Args...)
	c.Args[0] = cmd.Program
	c.Env = e.env(slug, run.RunID)
	c.SysProcAttr = detachedAttr()

	var out *os.File
	if dir := strings.TrimSpace(e.cfg.LogDir); dir != "" {
		run.LogPath = filepath.Join(dir, slug+".log")
		out, err = openLog(run.LogPath)
		if err != nil {
			return Run{}, &task.LaunchError{Slug: slug, Program: cmd.Program, Reason: "cannot open log file", Err: err}
		}
		fmt.Fprintf(out, "--- %s run %s: %s\n", time.Now().Format(time.RFC3339), run.RunID, cmd)
		c.Stdout = out
		c.Stderr = out
	}

	startedAt := time.Now()
	err = c.Start()
	if out != nil {
		// The child holds its own descriptor.
		_ = out.Close()
	}
	if err != nil {
		return Run{}, &task.LaunchError{Slug: slug, Program: cmd.Program, Reason: classify(err), Err: err}
	}
	run.PID = c.Process.Pid

	e.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskLaunched, Time: startedAt, Data: eventbus.LaunchEvent{
		RunID:   run.RunID,
		Slug:    slug,
		PID:     run.PID,
		Command: cmd.String(),
		LogPath: run.LogPath,
	}})
	e.log.Debug("child started", logx.String("slug", slug), logx.Int("pid", run.PID), logx.String("run_id", run.RunID))

	e.reapers.Add(1)
	go e.reap(c, slug, run, startedAt)
	return run, nil
}

func (e *Exec) reap(c *exec.Cmd, slug string, run Run, startedAt time.Time) {
	defer e.reapers.Done()
	waitErr := c.Wait()

	ev := eventbus.ExitEvent{
		RunID:    run.RunID,
		Slug:     slug,
		PID:      run.PID,
		ExitCode: -1,
		Duration: time.Since(startedAt),
	}
	if st := c.ProcessState; st != nil {
		ev.ExitCode = st.ExitCode()
		if ws, ok := st.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			ev.Signal = ws.Signal().String()
		}
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		ev.Err = waitErr
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskExited, Data: ev})
}

// Wait blocks until every reaper has collected its child or ctx is done.
func (e *Exec) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.reapers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsAlive reports whether pid names a live process.
func (e *Exec) IsAlive(pid int) bool { return IsAlive(pid) }

func (e *Exec) env(slug, runID string) []string {
	var env []string
	if e.cfg.InheritEnv {
		env = os.Environ()
	} else {
		env = []string{defaultPath}
	}
	return append(env, "SINGLESCHEDULE_SLUG="+slug, "SINGLESCHEDULE_RUN_ID="+runID)
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func classify(err error) string {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return "command not found"
	case errors.Is(err, fs.ErrPermission):
		return "permission denied"
	case errors.Is(err, syscall.ENOEXEC):
		return "not executable"
	default:
		return "start failed"
	}
}
