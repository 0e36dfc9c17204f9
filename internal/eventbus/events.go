package eventbus

import "time"

// Event types published inside the daemon.
const (
	TypeTaskLaunched = "task.launched"
	TypeTaskExited   = "task.exited"
)

// LaunchEvent is the Data of a task.launched event.
type LaunchEvent struct {
	RunID   string
	Slug    string
	PID     int
	Command string
	LogPath string
}

// ExitEvent is the Data of a task.exited event. ExitCode is -1 when the
// child was killed by a signal.
type ExitEvent struct {
	RunID    string
	Slug     string
	PID      int
	ExitCode int
	Signal   string
	Duration time.Duration
	Err      error
}
