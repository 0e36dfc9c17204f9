package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"singleschedule/internal/cronexpr"
	"singleschedule/internal/launcher"
	"singleschedule/internal/storage"
	"singleschedule/internal/task"
	logx "singleschedule/pkg/logx"
)

// launchWarnEvery bounds how often a repeatedly failing task logs a warning.
const launchWarnEvery = 30 * time.Second

// TickResult summarizes one tick.
type TickResult struct {
	At       time.Time
	Skipped  bool
	Launched []string
	Failed   []string
	Cleared  []string
}

// Loop evaluates ticks against the store.
type Loop struct {
	store    storage.Store
	launcher launcher.Launcher
	log      logx.Logger

	mu       sync.Mutex
	loc      *time.Location
	lastTick time.Time
	exprs    map[string]*cronexpr.Expr
	warn     map[string]*rate.Limiter
}

func NewLoop(store storage.Store, l launcher.Launcher, loc *time.Location, log logx.Logger) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Loop{
		store:    store,
		launcher: l,
		log:      log,
		loc:      loc,
		exprs:    map[string]*cronexpr.Expr{},
		warn:     map[string]*rate.Limiter{},
	}
}

// SetLocation changes the zone cron expressions are evaluated in.
func (l *Loop) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	l.mu.Lock()
	l.loc = loc
	l.mu.Unlock()
}

// patch is the change a tick made to one task. It is re-applied to the
// freshly loaded set under the store lock so concurrent edits survive.
type patch struct {
	createdAt time.Time
	stalePID  int
	launched  bool
	pid       int
	lastRun   time.Time
}

// Tick runs one evaluation for the instant now.
//
// Only a Corrupt store is returned as an error; the caller must stop.
// Other store failures are logged and the tick is skipped.
func (l *Loop) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	at := now.In(l.loc).Truncate(time.Second)
	res := TickResult{At: at}
	if !l.lastTick.IsZero() && !at.After(l.lastTick) {
		res.Skipped = true
		return res, nil
	}
	l.lastTick = at

	tasks, err := l.store.Load(ctx)
	if err != nil {
		if errors.Is(err, task.ErrCorrupt) {
			return res, err
		}
		l.log.Warn("tick skipped: store load failed", logx.Time("at", at), logx.Err(err))
		res.Skipped = true
		return res, nil
	}

	patches := map[string]*patch{}
	for i := range tasks {
		t := &tasks[i]
		if t.HasPID() && !l.launcher.IsAlive(*t.PID) {
			patches[t.Slug] = &patch{createdAt: t.CreatedAt, stalePID: *t.PID}
			res.Cleared = append(res.Cleared, t.Slug)
			t.PID = nil
		}
		if !t.Active {
			continue
		}
		expr, err := l.compile(t.Cron)
		if err != nil {
			l.log.Error("stored cron expression does not parse", logx.String("slug", t.Slug), logx.Err(err))
			continue
		}
		if !expr.Matches(at) {
			continue
		}

		run, err := l.launcher.Launch(ctx, t.Slug, t.Command)
		if err != nil {
			res.Failed = append(res.Failed, t.Slug)
			l.launchFailed(ctx, *t, at, err)
			continue
		}
		p := patches[t.Slug]
		if p == nil {
			p = &patch{createdAt: t.CreatedAt}
			patches[t.Slug] = p
		}
		p.launched = true
		p.pid = run.PID
		p.lastRun = at
		res.Launched = append(res.Launched, t.Slug)
		l.audit(ctx, storage.AuditEntry{At: at, RunID: run.RunID, Slug: t.Slug, Action: storage.ActionLaunch, PID: run.PID})
		l.log.Info("task launched", logx.String("slug", t.Slug), logx.Int("pid", run.PID), logx.String("run_id", run.RunID))
	}

	if len(patches) == 0 {
		return res, nil
	}
	err = l.store.Update(ctx, func(cur []task.Task) ([]task.Task, error) {
		applyPatches(cur, patches)
		return cur, nil
	})
	if err != nil {
		if errors.Is(err, task.ErrCorrupt) {
			return res, err
		}
		l.log.Warn("tick update failed", logx.Time("at", at), logx.Err(err), logx.Strings("launched", res.Launched))
	}
	return res, nil
}

func applyPatches(cur []task.Task, patches map[string]*patch) {
	for slug, p := range patches {
		i := task.Index(cur, slug)
		// Removed, or removed and re-added, since the tick loaded it.
		if i < 0 || !cur[i].CreatedAt.Equal(p.createdAt) {
			continue
		}
		t := &cur[i]
		if p.launched {
			pid := p.pid
			last := p.lastRun
			t.PID = &pid
			t.LastRun = &last
			continue
		}
		if t.PID != nil && *t.PID == p.stalePID {
			t.PID = nil
		}
	}
}

// ResetPIDs clears every recorded pid. The daemon calls it on start: a pid
// that survived a restart cannot be trusted to belong to the same launch.
func (l *Loop) ResetPIDs(ctx context.Context) ([]string, error) {
	var cleared []string
	err := l.store.Update(ctx, func(cur []task.Task) ([]task.Task, error) {
		cleared = cleared[:0]
		for i := range cur {
			if cur[i].PID != nil {
				cur[i].PID = nil
				cleared = append(cleared, cur[i].Slug)
			}
		}
		return cur, nil
	})
	return cleared, err
}

func (l *Loop) compile(expr string) (*cronexpr.Expr, error) {
	if e, ok := l.exprs[expr]; ok {
		return e, nil
	}
	e, err := cronexpr.Parse(expr)
	if err != nil {
		return nil, err
	}
	l.exprs[expr] = e
	return e, nil
}

func (l *Loop) launchFailed(ctx context.Context, t task.Task, at time.Time, err error) {
	l.audit(ctx, storage.AuditEntry{At: at, Slug: t.Slug, Action: storage.ActionLaunchFailed, Error: err.Error()})

	lim := l.warn[t.Slug]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(launchWarnEvery), 1)
		l.warn[t.Slug] = lim
	}
	if lim.AllowN(at, 1) {
		l.log.Warn("task launch failed", logx.String("slug", t.Slug), logx.String("command", t.Command.String()), logx.Err(err))
		return
	}
	l.log.Debug("task launch failed", logx.String("slug", t.Slug), logx.Err(err))
}

func (l *Loop) audit(ctx context.Context, e storage.AuditEntry) {
	if err := l.store.AppendAudit(ctx, e); err != nil {
		l.log.Warn("audit append failed", logx.String("slug", e.Slug), logx.String("action", e.Action), logx.Err(err))
	}
}
