//go:build unix

package fslock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestTryLockExcludesSecondHolder(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "x.lock")

	l, ok, err := TryLock(path)
	if err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	if _, ok2, err := TryLock(path); err != nil || ok2 {
		t.Fatalf("second TryLock: ok=%v err=%v", ok2, err)
	}
	if held, err := Held(path); err != nil || !held {
		t.Fatalf("Held = %v, %v", held, err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if held, err := Held(path); err != nil || held {
		t.Fatalf("Held after unlock = %v, %v", held, err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("second Unlock: %v", err)
	}
}

func TestHeldIgnoresSharedHolders(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "x.lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	// Stands in for another liveness check caught mid-way.
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		t.Fatalf("flock: %v", err)
	}
	if held, err := Held(path); err != nil || held {
		t.Fatalf("Held with a shared holder = %v, %v", held, err)
	}
}

func TestHeldMissingFile(t *testing.T) {
	t.Parallel()
	held, err := Held(filepath.Join(t.TempDir(), "missing.lock"))
	if err != nil || held {
		t.Fatalf("Held = %v, %v", held, err)
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "x.lock")
	l, _, err := TryLock(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	if _, err := Acquire(ctx, path, 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire error = %v, want deadline exceeded", err)
	}
}

func TestAcquireWaitsForRelease(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "x.lock")
	l, _, err := TryLock(path)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = l.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l2, err := Acquire(ctx, path, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	_ = l2.Unlock()
}
