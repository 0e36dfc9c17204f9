package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"singleschedule/internal/activation"
	"singleschedule/internal/cronexpr"
	"singleschedule/internal/daemon"
	"singleschedule/internal/storage"
	"singleschedule/internal/task"
	logx "singleschedule/pkg/logx"
)

// Options are the process-wide knobs the CLI exposes as global flags.
type Options struct {
	// Home overrides the state directory.
	Home string
	// ConfigPath overrides <home>/config.yaml.
	ConfigPath string
	// LogLevel overrides logging.level from the config file.
	LogLevel string
	// Daemon selects the daemon's sinks (daemon.log) instead of the CLI's
	// stderr console.
	Daemon bool
	// Executable is the binary spawned by StartDaemon. Empty means os.Executable.
	Executable string
}

// ErrInvalidSlug is returned by Add for slugs that cannot name a task.
var ErrInvalidSlug = errors.New("invalid slug")

// Slugs double as log file names.
var slugPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

type App struct {
	opts  Options
	home  string
	paths daemon.Paths

	cfgm *ConfigManager

	// mu guards cfg and loc, which the daemon swaps on config reload.
	mu  sync.RWMutex
	cfg *Config
	loc *time.Location

	logs *logx.Service
	log  logx.Logger

	store   storage.Store
	storeCf storage.Config
	ctl     *daemon.Control
	act     *activation.Controller
}

// New resolves the state directory, loads the config file and opens the store.
func New(opts Options) (*App, error) {
	home, err := daemon.HomeDir(opts.Home)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(home, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	paths := daemon.PathsIn(home)

	cfgPath := opts.ConfigPath
	if cfgPath == "" {
		cfgPath = findConfig(home)
	}
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logConfig(cfg, opts, paths))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		logs.Close()
		return nil, err
	}

	sc, err := mapStorageConfig(cfg, home)
	if err != nil {
		logs.Close()
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		logs.Close()
		return nil, err
	}

	a := &App{
		opts:    opts,
		home:    home,
		paths:   paths,
		cfgm:    cfgm,
		cfg:     cfg,
		logs:    logs,
		log:     log,
		store:   store,
		storeCf: sc,
		loc:     loc,
	}

	ctl, err := a.newControl()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.ctl = ctl
	a.act = activation.New(store, ctl, log.With(logx.String("comp", "activation")))
	return a, nil
}

func findConfig(home string) string {
	for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
		p := filepath.Join(home, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// logConfig maps the config file onto logx sinks. The CLI logs to stderr
// only; the daemon writes daemon.log unless the file overrides the path.
func logConfig(cfg *Config, opts Options, paths daemon.Paths) logx.Config {
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	if !opts.Daemon {
		if opts.LogLevel == "" {
			level = "warn"
		}
		return logx.Config{Level: level, Console: true, Stderr: true}
	}
	out := logx.Config{
		Level:   level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
	if out.File.Path == "" {
		out.File.Path = paths.Log
	}
	return out
}

func (a *App) newControl() (*daemon.Control, error) {
	exe := a.opts.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
	}
	timeouts, err := a.cfg.Daemon.Timeouts()
	if err != nil {
		return nil, err
	}
	return daemon.NewControl(daemon.Options{
		Paths:        a.paths,
		Executable:   exe,
		Args:         a.daemonArgs(),
		StartTimeout: timeouts.Start,
		StopTimeout:  timeouts.Stop,
		Log:          a.log.With(logx.String("comp", "daemon")),
	}), nil
}

// daemonArgs forwards the global flags so the daemon sees the same state.
func (a *App) daemonArgs() []string {
	args := []string{"daemon", "run", "--home", a.home}
	if p := a.cfgm.Path(); p != "" {
		args = append(args, "--config", p)
	}
	if a.opts.LogLevel != "" {
		args = append(args, "--log-level", a.opts.LogLevel)
	}
	return args
}

func (a *App) Home() string        { return a.home }
func (a *App) Paths() daemon.Paths { return a.paths }
func (a *App) Config() *Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}
func (a *App) Logger() logx.Logger { return a.log }
func (a *App) StorePath() string   { return a.storeCf.Path }
func (a *App) Location() *time.Location {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loc
}
func (a *App) Store() storage.Store               { return a.store }
func (a *App) Control() *daemon.Control           { return a.ctl }
func (a *App) Activation() *activation.Controller { return a.act }

func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}

// Add validates and persists a new task. Nothing is written when the slug,
// cron expression or command is rejected.
func (a *App) Add(ctx context.Context, slug, cron string, argv []string, active bool) error {
	slug = strings.TrimSpace(slug)
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("%w %q: use letters, digits, '.', '_' or '-'", ErrInvalidSlug, slug)
	}
	expr, err := cronexpr.Parse(cron)
	if err != nil {
		return err
	}
	cmd := task.NewCommand(argv)
	if cmd.IsZero() {
		return errors.New("command is required")
	}

	t := task.Task{
		Slug:      slug,
		Cron:      expr.String(),
		Command:   cmd,
		Active:    active,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.Update(ctx, func(cur []task.Task) ([]task.Task, error) {
		return task.Insert(cur, t)
	}); err != nil {
		return err
	}
	a.audit(ctx, storage.AuditEntry{Slug: slug, Action: storage.ActionAdd})
	a.log.Debug("task added", logx.String("slug", slug), logx.String("cron", t.Cron), logx.Bool("active", active))
	return nil
}

// Remove deletes a task. A running child is left alone.
func (a *App) Remove(ctx context.Context, slug string) error {
	slug = strings.TrimSpace(slug)
	if err := a.store.Update(ctx, func(cur []task.Task) ([]task.Task, error) {
		return task.Delete(cur, slug)
	}); err != nil {
		return err
	}
	a.audit(ctx, storage.AuditEntry{Slug: slug, Action: storage.ActionRemove})
	a.log.Debug("task removed", logx.String("slug", slug))
	return nil
}

// List returns every task in insertion order.
func (a *App) List(ctx context.Context) ([]task.Task, error) {
	return a.store.Load(ctx)
}

func (a *App) SetActive(ctx context.Context, slugs []string, active bool) (task.DaemonAction, error) {
	return a.act.SetActive(ctx, slugs, active)
}

func (a *App) SetAllActive(ctx context.Context, active bool) (task.DaemonAction, error) {
	return a.act.SetAllActive(ctx, active)
}

// DaemonAction reports what the daemon should do given the stored tasks.
func (a *App) DaemonAction(ctx context.Context) (task.DaemonAction, error) {
	return a.act.Plan(ctx)
}

func (a *App) IsDaemonRunning() bool { return a.ctl.IsRunning() }

// StartDaemon spawns the daemon unless one is already running.
func (a *App) StartDaemon(ctx context.Context) error {
	pid, err := a.ctl.Start(ctx)
	if err != nil {
		return err
	}
	a.log.Info("daemon started", logx.Int("pid", pid))
	return nil
}

func (a *App) StopDaemon(ctx context.Context) error {
	return a.ctl.Stop(ctx)
}

// RestartDaemon stops a running daemon, if any, and starts a new one.
func (a *App) RestartDaemon(ctx context.Context) (int, error) {
	pid, err := a.ctl.Restart(ctx)
	if err != nil {
		return 0, err
	}
	a.log.Info("daemon restarted", logx.Int("pid", pid))
	return pid, nil
}

// ApplyDaemonAction starts or stops the daemon as planned. It reports
// whether anything was done.
func (a *App) ApplyDaemonAction(ctx context.Context, action task.DaemonAction) (bool, error) {
	switch action {
	case task.StartDaemon:
		if err := a.StartDaemon(ctx); err != nil {
			if errors.Is(err, daemon.ErrAlreadyRunning) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	case task.StopDaemon:
		if err := a.StopDaemon(ctx); err != nil {
			if errors.Is(err, daemon.ErrNotRunning) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	default:
		return false, nil
	}
}

// NextRun is the first second after `after` at which t fires, evaluated in
// the configured timezone. Zero when t is inactive or never fires.
func (a *App) NextRun(t task.Task, after time.Time) time.Time {
	if !t.Active {
		return time.Time{}
	}
	expr, err := cronexpr.Parse(t.Cron)
	if err != nil {
		return time.Time{}
	}
	return expr.Next(after.In(a.Location()))
}

func (a *App) audit(ctx context.Context, e storage.AuditEntry) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := a.store.AppendAudit(ctx, e); err != nil {
		a.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}
