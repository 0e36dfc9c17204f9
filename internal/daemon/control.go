package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sys/unix"

	logx "singleschedule/pkg/logx"
)

const pollInterval = 50 * time.Millisecond

// Options configures Control.
type Options struct {
	Paths Paths
	// Executable and Args start the daemon process, normally this binary
	// with "daemon run" and the caller's global flags.
	Executable string
	Args       []string

	StartTimeout time.Duration
	StopTimeout  time.Duration
	Log          logx.Logger
}

// Control starts and stops the daemon from a CLI process.
type Control struct {
	opts Options
	log  logx.Logger
}

func NewControl(opts Options) *Control {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 5 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Control{opts: opts, log: log}
}

func (c *Control) Paths() Paths { return c.opts.Paths }

func (c *Control) IsRunning() bool { return IsRunning(c.opts.Paths) }

// Start spawns a detached daemon and waits until it holds the marker.
func (c *Control) Start(ctx context.Context) (int, error) {
	if pid, err := RunningPID(c.opts.Paths); err == nil {
		return pid, fmt.Errorf("%w with pid %d", ErrAlreadyRunning, pid)
	}
	exe := c.opts.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return 0, err
		}
	}
	if err := os.MkdirAll(c.opts.Paths.Dir, 0o755); err != nil {
		return 0, err
	}

	cmd := exec.Command(exe, c.opts.Args...)
	cmd.Dir = "/"
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	// stdio stays nil: /dev/null. The daemon writes its own log file.
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn daemon: %w", err)
	}
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	ctx, cancel := context.WithTimeout(ctx, c.opts.StartTimeout)
	defer cancel()
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		if pid, err := RunningPID(c.opts.Paths); err == nil {
			c.log.Debug("daemon started", logx.Int("pid", pid))
			return pid, nil
		}
		select {
		case err := <-exited:
			// Lost the race to another starter, or failed on startup.
			if pid, perr := RunningPID(c.opts.Paths); perr == nil {
				return pid, nil
			}
			return 0, fmt.Errorf("daemon exited during startup (%v); see %s", err, c.opts.Paths.Log)
		case <-ctx.Done():
			return 0, fmt.Errorf("daemon did not start within %s; see %s", c.opts.StartTimeout, c.opts.Paths.Log)
		case <-t.C:
		}
	}
}

// Stop sends SIGTERM and waits until the daemon releases its marker.
// Children the daemon launched keep running.
func (c *Control) Stop(ctx context.Context) error {
	pid, err := RunningPID(c.opts.Paths)
	if err != nil {
		return ErrNotRunning
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal daemon %d: %w", pid, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.StopTimeout)
	defer cancel()
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for c.IsRunning() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("daemon %d did not stop within %s", pid, c.opts.StopTimeout)
		case <-t.C:
		}
	}
	c.log.Debug("daemon stopped", logx.Int("pid", pid))
	return nil
}

// Restart stops a running daemon, then starts a fresh one.
func (c *Control) Restart(ctx context.Context) (int, error) {
	if err := c.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
		return 0, err
	}
	return c.Start(ctx)
}

// NotifyReady tells systemd (when supervised by it) the daemon is up.
func NotifyReady(log logx.Logger) { notify(log, sd.SdNotifyReady) }

// NotifyStopping tells systemd the daemon is shutting down.
func NotifyStopping(log logx.Logger) { notify(log, sd.SdNotifyStopping) }

func notify(log logx.Logger, state string) {
	sent, err := sd.SdNotify(false, state)
	if err != nil {
		log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
