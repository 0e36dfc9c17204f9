//go:build unix

// Package fslock wraps flock(2) advisory locks on lock files.
//
// Locks belong to an open file description, so two Lock values on the same
// path exclude each other even inside one process. The kernel drops the lock
// when the holder exits, which makes a held lock a reliable liveness marker.
package fslock

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultPoll is the retry interval used by Acquire when poll <= 0.
const DefaultPoll = 25 * time.Millisecond

type Lock struct {
	f    *os.File
	path string
}

// TryLock takes an exclusive lock on path without blocking, creating the
// file if needed. ok is false when another holder has it.
func TryLock(path string) (l *Lock, ok bool, err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, false, nil
		}
		return nil, false, &os.PathError{Op: "flock", Path: path, Err: err}
	}
	return &Lock{f: f, path: path}, true, nil
}

// Acquire polls TryLock until the lock is obtained or ctx is done.
func Acquire(ctx context.Context, path string, poll time.Duration) (*Lock, error) {
	if poll <= 0 {
		poll = DefaultPoll
	}
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		l, ok, err := TryLock(path)
		if err != nil {
			return nil, err
		}
		if ok {
			return l, nil
		}
		select {
		case <-ctx.Done():
			return nil, &os.PathError{Op: "flock", Path: path, Err: ctx.Err()}
		case <-t.C:
		}
	}
}

// Held reports whether some open file description holds an exclusive lock
// on path. A missing file is not held. The check takes a shared lock, so
// concurrent checks never see each other as holders.
func Held(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return true, nil
		}
		return false, &os.PathError{Op: "flock", Path: path, Err: err}
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false, nil
}

func (l *Lock) Path() string { return l.path }

// Unlock releases the lock. It is safe to call more than once.
func (l *Lock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return f.Close()
}
