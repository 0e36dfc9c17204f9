//go:build unix

package launcher

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// detachedAttr puts the child in a new session so it survives the daemon
// and never receives the daemon's terminal signals.
func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// IsAlive probes pid with signal 0. EPERM means the process exists but
// belongs to someone else.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
