package storage

import (
	"context"
	"time"

	"singleschedule/internal/task"
)

// Store persists the task set.
//
// Tasks are returned in insertion order. Every mutating call has reached
// stable storage when it returns.
type Store interface {
	Load(ctx context.Context) ([]task.Task, error)
	Save(ctx context.Context, tasks []task.Task) error
	// Update runs load, fn and save under the store's exclusive lock.
	// An error from fn aborts the update and is returned unchanged.
	Update(ctx context.Context, fn func([]task.Task) ([]task.Task, error)) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file" (default): tasks.json document guarded by a lock file
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	LockTimeout time.Duration // 0 waits as long as ctx allows

	// Validate checks one task before it is written and after it is read.
	// The app wires it to the cron parser.
	Validate func(task.Task) error
}

// Audit actions.
const (
	ActionAdd          = "add"
	ActionRemove       = "remove"
	ActionActivate     = "activate"
	ActionDeactivate   = "deactivate"
	ActionLaunch       = "launch"
	ActionLaunchFailed = "launch_failed"
	ActionExit         = "exit"
)

// AuditEntry records an operator or scheduler action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	RunID    string    `json:"run_id,omitempty"`
	Slug     string    `json:"slug"`
	Action   string    `json:"action"`
	PID      int       `json:"pid,omitempty"`
	ExitCode *int      `json:"exit_code,omitempty"`
	Error    string    `json:"error,omitempty"`
}
