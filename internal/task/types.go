package task

import (
	"strings"
	"time"
)

// Task is a named, persisted unit of scheduled work.
//
// Slug, Cron, Command and CreatedAt are immutable after creation; edits are
// remove + re-add. Active is flipped by the activation controller, PID and
// LastRun are owned by the scheduler loop.
type Task struct {
	Slug      string     `json:"slug"`
	Cron      string     `json:"cron"`
	Command   Command    `json:"command"`
	Active    bool       `json:"active"`
	PID       *int       `json:"pid"`
	CreatedAt time.Time  `json:"created_at"`
	LastRun   *time.Time `json:"last_run"`
}

// Command is the argv of a task. It is opaque to the scheduler.
type Command struct {
	Program string   `json:"program"`
	Args    []string `json:"args,omitempty"`
}

// NewCommand builds a Command from argv.
//
// A single argument containing whitespace is split into fields, which keeps
// quoted "cmd arg" invocations working.
func NewCommand(argv []string) Command {
	if len(argv) == 1 && strings.ContainsAny(argv[0], " \t") {
		argv = strings.Fields(argv[0])
	}
	if len(argv) == 0 {
		return Command{}
	}
	return Command{Program: argv[0], Args: append([]string(nil), argv[1:]...)}
}

// Argv returns the full argument vector, program first.
func (c Command) Argv() []string {
	if c.Program == "" {
		return nil
	}
	out := make([]string, 0, len(c.Args)+1)
	out = append(out, c.Program)
	return append(out, c.Args...)
}

// String renders the command line for display.
func (c Command) String() string { return strings.Join(c.Argv(), " ") }

func (c Command) IsZero() bool { return strings.TrimSpace(c.Program) == "" }

// HasPID reports whether a launched instance is tracked.
func (t Task) HasPID() bool { return t.PID != nil && *t.PID > 0 }

// Clone returns a deep copy so callers can mutate pointers safely.
func (t Task) Clone() Task {
	cp := t
	cp.Command.Args = append([]string(nil), t.Command.Args...)
	if t.PID != nil {
		v := *t.PID
		cp.PID = &v
	}
	if t.LastRun != nil {
		v := *t.LastRun
		cp.LastRun = &v
	}
	return cp
}

// Index returns the position of slug in tasks, or -1.
func Index(tasks []Task, slug string) int {
	for i := range tasks {
		if tasks[i].Slug == slug {
			return i
		}
	}
	return -1
}

// Insert appends t, rejecting a duplicate slug without touching tasks.
func Insert(tasks []Task, t Task) ([]Task, error) {
	if Index(tasks, t.Slug) >= 0 {
		return tasks, &StoreError{Kind: ErrDuplicateSlug, Slugs: []string{t.Slug}}
	}
	return append(tasks, t), nil
}

// Delete removes slug, failing with NotFound if it is not present.
func Delete(tasks []Task, slug string) ([]Task, error) {
	i := Index(tasks, slug)
	if i < 0 {
		return tasks, &StoreError{Kind: ErrNotFound, Slugs: []string{slug}}
	}
	out := make([]Task, 0, len(tasks)-1)
	out = append(out, tasks[:i]...)
	return append(out, tasks[i+1:]...), nil
}

// CheckUnique returns a DuplicateSlug error naming every repeated slug.
func CheckUnique(tasks []Task) error {
	seen := make(map[string]struct{}, len(tasks))
	var dup []string
	for _, t := range tasks {
		if _, ok := seen[t.Slug]; ok {
			dup = append(dup, t.Slug)
			continue
		}
		seen[t.Slug] = struct{}{}
	}
	if len(dup) > 0 {
		return &StoreError{Kind: ErrDuplicateSlug, Slugs: dup}
	}
	return nil
}

// AnyActive reports whether at least one task is active.
func AnyActive(tasks []Task) bool {
	for _, t := range tasks {
		if t.Active {
			return true
		}
	}
	return false
}

// DaemonAction tells the caller what to do with the daemon after a change
// to the set of active tasks.
type DaemonAction int

const (
	NoAction DaemonAction = iota
	StartDaemon
	StopDaemon
)

func (a DaemonAction) String() string {
	switch a {
	case StartDaemon:
		return "start_daemon"
	case StopDaemon:
		return "stop_daemon"
	default:
		return "no_action"
	}
}

// Action computes the daemon action for a resulting task set.
func Action(daemonRunning bool, tasks []Task) DaemonAction {
	active := AnyActive(tasks)
	switch {
	case !daemonRunning && active:
		return StartDaemon
	case daemonRunning && !active:
		return StopDaemon
	default:
		return NoAction
	}
}
