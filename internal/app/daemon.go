package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"singleschedule/internal/daemon"
	"singleschedule/internal/eventbus"
	"singleschedule/internal/launcher"
	"singleschedule/internal/observability/debugsrv"
	"singleschedule/internal/runtime/supervisor"
	"singleschedule/internal/scheduler"
	logx "singleschedule/pkg/logx"
)

// reapTimeout bounds how long shutdown waits for exit reports of children
// that already finished. Children still running are not waited for.
const reapTimeout = 2 * time.Second

// RunDaemonLoop makes this process the daemon and ticks until ctx is done
// or the store turns out corrupt.
func (a *App) RunDaemonLoop(ctx context.Context) error {
	marker, err := daemon.Acquire(a.paths)
	if err != nil {
		return err
	}
	defer func() {
		if err := marker.Release(); err != nil {
			a.log.Warn("release daemon marker failed", logx.Err(err))
		}
	}()

	dlog := a.log.With(logx.String("comp", "daemon"))
	dlog.Info("daemon starting",
		logx.String("home", a.home),
		logx.String("store", a.storeCf.Path),
		logx.String("driver", a.storeCf.Driver),
		logx.String("timezone", a.Location().String()),
	)

	bus := eventbus.New()
	exec := launcher.New(a.launcherConfig(), a.log.With(logx.String("comp", "launcher")), bus)
	loop := scheduler.NewLoop(a.store, exec, a.Location(), a.log.With(logx.String("comp", "scheduler")))
	svc := scheduler.NewService(loop, a.store, bus, a.log.With(logx.String("comp", "scheduler")))

	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		return cfg.Validate()
	})

	dbg := debugsrv.New(a.log.With(logx.String("comp", "debug")), func(ctx context.Context) (any, error) {
		return a.Status(ctx, time.Now())
	})
	if err := dbg.Apply(ctx, debugConfig(a.Config())); err != nil {
		dlog.Warn("debug server not started", logx.Err(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		dbg.Stop(sctx)
		cancel()
	}()

	sup := NewSupervisor(ctx, WithLogger(dlog), WithCancelOnError(true))
	sup.Go("scheduler", svc.Run)
	sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	sup.Go0("config.reload", func(ctx context.Context) { a.reloadLoop(ctx, loop, dbg) })

	daemon.NotifyReady(dlog)
	dlog.Info("daemon ready")

	err = sup.Wait(context.Background())
	daemon.NotifyStopping(dlog)

	wctx, cancel := context.WithTimeout(context.Background(), reapTimeout)
	_ = exec.Wait(wctx)
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		dlog.Error("daemon halted", logx.Err(err))
		return fmt.Errorf("daemon halted: %w", err)
	}
	dlog.Info("daemon stopped")
	return nil
}

func debugConfig(cfg *Config) debugsrv.Config {
	return debugsrv.Config{
		Enabled:       cfg.Debug.Enabled,
		Addr:          cfg.Debug.Addr,
		Token:         cfg.Debug.Token,
		AllowInsecure: cfg.Debug.AllowInsecure,
	}
}

func (a *App) launcherConfig() launcher.Config {
	dir := strings.TrimSpace(a.Config().Launcher.LogDir)
	switch {
	case dir == "-":
		dir = ""
	case dir == "":
		dir = a.paths.LogDir
	case !filepath.IsAbs(dir):
		dir = filepath.Join(a.home, dir)
	}
	return launcher.Config{LogDir: dir, InheritEnv: a.Config().Launcher.InheritEnvOrDefault()}
}

// reloadLoop applies config changes published by the watcher. Logging and
// the scheduler timezone apply live; other sections wait for a restart.
func (a *App) reloadLoop(ctx context.Context, loop *scheduler.Loop, dbg *debugsrv.Server) {
	ch := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(ch)
	log := a.log.With(logx.String("comp", "config"))

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the newest config.
			for {
				select {
				case next, ok := <-ch:
					if !ok {
						return
					}
					cfg = next
					continue
				default:
				}
				break
			}
			a.applyConfig(cfg, loop, log)
			if err := dbg.Apply(ctx, debugConfig(cfg)); err != nil {
				log.Warn("debug server reconfigure failed", logx.Err(err))
			}
		}
	}
}

func (a *App) applyConfig(cfg *Config, loop *scheduler.Loop, log logx.Logger) {
	changed, attrs, restart := SummarizeConfigChange(a.Config(), cfg)
	if len(changed) == 0 {
		return
	}
	fields := append([]logx.Field{logx.Strings("sections", changed)}, attrs...)
	log.Info("config reloaded", fields...)

	a.logs.Apply(logConfig(cfg, a.opts, a.paths))
	a.mu.Lock()
	prevLoc := a.loc
	a.cfg = cfg
	loc, err := cfg.Scheduler.Location()
	if err == nil && loc.String() != prevLoc.String() {
		a.loc = loc
	}
	a.mu.Unlock()

	if err == nil && loc.String() != prevLoc.String() {
		loop.SetLocation(loc)
		log.Info("scheduler timezone changed", logx.String("timezone", loc.String()))
	}
	if restart {
		log.Warn("some config changes need a daemon restart", logx.Strings("sections", changed))
	}
}
