package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"singleschedule/internal/fslock"
)

var (
	ErrAlreadyRunning = errors.New("daemon is already running")
	ErrNotRunning     = errors.New("daemon is not running")
)

// Marker is held by the running daemon.
type Marker struct {
	paths Paths
	lock  *fslock.Lock
}

// acquireWait bounds how long Acquire retries the marker lock. Liveness
// checks hold it in shared mode for an instant, so a free marker is
// obtained within a few polls.
const acquireWait = 500 * time.Millisecond

// Acquire makes the calling process the daemon. It fails with
// ErrAlreadyRunning when another process keeps the marker for longer than
// acquireWait.
func Acquire(p Paths) (*Marker, error) {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), acquireWait)
	defer cancel()
	l, err := fslock.Acquire(ctx, p.Lock, 10*time.Millisecond)
	if errors.Is(err, context.DeadlineExceeded) {
		if pid, err := readPID(p.PID); err == nil {
			return nil, fmt.Errorf("%w with pid %d", ErrAlreadyRunning, pid)
		}
		return nil, ErrAlreadyRunning
	}
	if err != nil {
		return nil, err
	}
	if err := writePID(p.PID, os.Getpid()); err != nil {
		_ = l.Unlock()
		return nil, err
	}
	return &Marker{paths: p, lock: l}, nil
}

// Release removes the pid file and drops the lock.
func (m *Marker) Release() error {
	if m == nil || m.lock == nil {
		return nil
	}
	if err := os.Remove(m.paths.PID); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = m.lock.Unlock()
		m.lock = nil
		return err
	}
	err := m.lock.Unlock()
	m.lock = nil
	return err
}

// IsRunning reports whether some process holds the daemon marker.
func IsRunning(p Paths) bool {
	held, err := fslock.Held(p.Lock)
	return err == nil && held
}

// RunningPID returns the daemon's pid, or ErrNotRunning when the marker is
// free (including a stale pid file).
func RunningPID(p Paths) (int, error) {
	if !IsRunning(p) {
		return 0, ErrNotRunning
	}
	return readPID(p.PID)
}

func readPID(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s", path)
	}
	return pid, nil
}

func writePID(path string, pid int) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
