package app

import (
	"context"
	"time"

	"singleschedule/internal/daemon"
)

// Status is the snapshot behind `status` and the daemon's /status endpoint.
type Status struct {
	DaemonPID int          `json:"daemon_pid,omitempty"`
	Home      string       `json:"home"`
	Store     string       `json:"store"`
	Driver    string       `json:"driver"`
	Timezone  string       `json:"timezone"`
	Total     int          `json:"total"`
	Active    int          `json:"active"`
	Tasks     []TaskStatus `json:"tasks"`
}

type TaskStatus struct {
	Slug    string     `json:"slug"`
	Active  bool       `json:"active"`
	PID     *int       `json:"pid,omitempty"`
	LastRun *time.Time `json:"last_run,omitempty"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

// Running reports whether a daemon held the marker when the snapshot was taken.
func (s Status) Running() bool { return s.DaemonPID > 0 }

func (a *App) Status(ctx context.Context, now time.Time) (Status, error) {
	tasks, err := a.List(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Home:     a.home,
		Store:    a.storeCf.Path,
		Driver:   a.storeCf.Driver,
		Timezone: a.Location().String(),
		Total:    len(tasks),
		Tasks:    make([]TaskStatus, 0, len(tasks)),
	}
	if pid, err := daemon.RunningPID(a.paths); err == nil {
		st.DaemonPID = pid
	}
	for _, t := range tasks {
		ts := TaskStatus{Slug: t.Slug, Active: t.Active, PID: t.PID, LastRun: t.LastRun}
		if t.Active {
			st.Active++
		}
		if next := a.NextRun(t, now); !next.IsZero() {
			ts.NextRun = &next
		}
		st.Tasks = append(st.Tasks, ts)
	}
	return st, nil
}
