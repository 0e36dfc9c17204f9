package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"singleschedule/internal/eventbus"
	"singleschedule/internal/runtime/supervisor"
	"singleschedule/internal/storage"
	"singleschedule/internal/task"
	logx "singleschedule/pkg/logx"
)

// everySecond fires on each wall-clock second boundary.
const everySecond = "* * * * * *"

// tickTimeout bounds one tick, including waiting for the store lock.
const tickTimeout = 30 * time.Second

// Service is the daemon runtime around Loop.
type Service struct {
	loop  *Loop
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger

	// now is the tick clock; tests replace it.
	now func() time.Time
}

func NewService(loop *Loop, store storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Service{loop: loop, store: store, bus: bus, log: log, now: time.Now}
}

// Loop exposes the tick loop, e.g. to apply a new timezone.
func (s *Service) Loop() *Loop { return s.loop }

// Run blocks until ctx is cancelled or a tick reports a corrupt store.
//
// On return the in-flight tick has finished and written its changes.
// Launched children are left running.
func (s *Service) Run(ctx context.Context) error {
	cleared, err := s.loop.ResetPIDs(ctx)
	switch {
	case errors.Is(err, task.ErrCorrupt):
		return fmt.Errorf("reset pids: %w", err)
	case err != nil:
		s.log.Warn("reset pids failed", logx.Err(err))
	case len(cleared) > 0:
		s.log.Info("cleared pids from previous daemon", logx.Strings("slugs", cleared))
	}

	sup := supervisor.NewSupervisor(ctx, supervisor.WithLogger(s.log), supervisor.WithCancelOnError(true))
	exits, unsub := s.bus.Subscribe(64, eventbus.TypeTaskExited)
	sup.Go0("scheduler.events", func(ctx context.Context) { s.watchEvents(ctx, exits) })
	sup.Go("scheduler.trigger", s.trigger)

	err = sup.Wait(context.Background())
	unsub()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// trigger owns the cron instance and returns the first fatal tick error.
func (s *Service) trigger(ctx context.Context) error {
	cl := cronLogger{log: s.log.With(logx.String("comp", "cron"))}
	fatal := make(chan error, 1)

	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(everySecond, func() {
		if err := s.tick(ctx); err != nil {
			select {
			case fatal <- err:
			default:
			}
		}
	}); err != nil {
		return err
	}
	c.Start()
	s.log.Info("scheduler started")

	var err error
	select {
	case <-ctx.Done():
	case err = <-fatal:
		s.log.Error("scheduler halted", logx.Err(err))
	}
	// Stop waits for a running tick, which flushes its store update.
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
	return err
}

func (s *Service) tick(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	// A started tick runs to completion even if the daemon is stopping.
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tickTimeout)
	defer cancel()
	res, err := s.loop.Tick(tctx, s.now())
	if err != nil {
		return err
	}
	if len(res.Launched)+len(res.Failed)+len(res.Cleared) > 0 {
		s.log.Debug("tick",
			logx.Time("at", res.At),
			logx.Strings("launched", res.Launched),
			logx.Strings("failed", res.Failed),
			logx.Strings("cleared", res.Cleared),
		)
	}
	return nil
}

func (s *Service) watchEvents(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			ev, ok := e.Data.(eventbus.ExitEvent)
			if e.Type != eventbus.TypeTaskExited || !ok {
				continue
			}
			s.recordExit(ctx, e.Time, ev)
		}
	}
}

func (s *Service) recordExit(ctx context.Context, at time.Time, ev eventbus.ExitEvent) {
	code := ev.ExitCode
	entry := storage.AuditEntry{At: at, RunID: ev.RunID, Slug: ev.Slug, Action: storage.ActionExit, PID: ev.PID, ExitCode: &code}
	fields := []logx.Field{
		logx.String("slug", ev.Slug),
		logx.Int("pid", ev.PID),
		logx.Int("exit_code", code),
		logx.Duration("took", ev.Duration),
	}
	if ev.Signal != "" {
		fields = append(fields, logx.String("signal", ev.Signal))
		entry.Error = "signal: " + ev.Signal
	}
	if ev.Err != nil {
		fields = append(fields, logx.Err(ev.Err))
		entry.Error = ev.Err.Error()
	}
	if code == 0 {
		s.log.Info("task exited", fields...)
	} else {
		s.log.Warn("task exited", fields...)
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.log.Warn("audit append failed", logx.String("slug", ev.Slug), logx.Err(err))
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
