// Package activation flips tasks' active flags and tells the caller what
// the daemon should do about it.
package activation

import (
	"context"
	"sort"
	"time"

	"singleschedule/internal/storage"
	"singleschedule/internal/task"
	logx "singleschedule/pkg/logx"
)

// DaemonProbe reports whether the daemon is currently running.
type DaemonProbe interface {
	IsRunning() bool
}

// ProbeFunc adapts a function to DaemonProbe.
type ProbeFunc func() bool

func (f ProbeFunc) IsRunning() bool { return f() }

type Controller struct {
	store storage.Store
	probe DaemonProbe
	log   logx.Logger
}

func New(store storage.Store, probe DaemonProbe, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{store: store, probe: probe, log: log}
}

// SetActive sets active on every named task in one store update.
// Any unknown slug aborts the whole batch with a NotFound error.
func (c *Controller) SetActive(ctx context.Context, slugs []string, active bool) (task.DaemonAction, error) {
	var (
		result  []task.Task
		changed []string
	)
	err := c.store.Update(ctx, func(cur []task.Task) ([]task.Task, error) {
		changed = changed[:0]
		var missing []string
		for _, slug := range dedupe(slugs) {
			i := task.Index(cur, slug)
			if i < 0 {
				missing = append(missing, slug)
				continue
			}
			if cur[i].Active != active {
				cur[i].Active = active
				changed = append(changed, slug)
			}
		}
		if len(missing) > 0 {
			return nil, &task.StoreError{Kind: task.ErrNotFound, Slugs: missing}
		}
		result = cur
		return cur, nil
	})
	if err != nil {
		return task.NoAction, err
	}
	c.audit(ctx, changed, active)
	return task.Action(c.probe.IsRunning(), result), nil
}

// SetAllActive sets active on every task.
func (c *Controller) SetAllActive(ctx context.Context, active bool) (task.DaemonAction, error) {
	var (
		result  []task.Task
		changed []string
	)
	err := c.store.Update(ctx, func(cur []task.Task) ([]task.Task, error) {
		changed = changed[:0]
		for i := range cur {
			if cur[i].Active != active {
				cur[i].Active = active
				changed = append(changed, cur[i].Slug)
			}
		}
		result = cur
		return cur, nil
	})
	if err != nil {
		return task.NoAction, err
	}
	c.audit(ctx, changed, active)
	return task.Action(c.probe.IsRunning(), result), nil
}

// Plan computes the daemon action for the current task set without changing it.
func (c *Controller) Plan(ctx context.Context) (task.DaemonAction, error) {
	tasks, err := c.store.Load(ctx)
	if err != nil {
		return task.NoAction, err
	}
	return task.Action(c.probe.IsRunning(), tasks), nil
}

func (c *Controller) audit(ctx context.Context, slugs []string, active bool) {
	action := storage.ActionDeactivate
	if active {
		action = storage.ActionActivate
	}
	now := time.Now().UTC()
	for _, slug := range slugs {
		if err := c.store.AppendAudit(ctx, storage.AuditEntry{At: now, Slug: slug, Action: action}); err != nil {
			c.log.Warn("audit append failed", logx.String("slug", slug), logx.Err(err))
		}
	}
	if len(slugs) > 0 {
		c.log.Debug("active flags changed", logx.Strings("slugs", slugs), logx.Bool("active", active))
	}
}

func dedupe(slugs []string) []string {
	seen := make(map[string]struct{}, len(slugs))
	out := make([]string, 0, len(slugs))
	for _, s := range slugs {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
