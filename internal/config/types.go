package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
	// Embedded zone database so scheduler.timezone works on minimal hosts.
	_ "time/tzdata"
)

// Config is the on-disk configuration of singleschedule.
//
// Every section is optional. A missing config file is equivalent to an
// empty one, which yields Default().
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Launcher  LauncherConfig  `json:"launcher"`
	Daemon    DaemonConfig    `json:"daemon"`
	Debug     DebugConfig     `json:"debug"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the task store driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "~/.config/singleschedule/tasks.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type SchedulerConfig struct {
	// Timezone cron expressions are evaluated in. Empty means the local zone.
	Timezone string `json:"timezone,omitempty"`
}

type LauncherConfig struct {
	// LogDir receives <slug>.log with each child's stdout and stderr.
	// Empty means <home>/logs; "-" discards child output.
	LogDir string `json:"log_dir,omitempty"`
	// InheritEnv passes the daemon's environment to children.
	InheritEnv *bool `json:"inherit_env,omitempty"`
}

// DaemonConfig durations are Go duration strings (e.g. "500ms", "10s").
type DaemonConfig struct {
	StartTimeout string `json:"start_timeout,omitempty"`
	StopTimeout  string `json:"stop_timeout,omitempty"`
	LockTimeout  string `json:"lock_timeout,omitempty"`
}

// DebugConfig controls the daemon's optional HTTP endpoint (health, status
// and pprof).
//
// A non-loopback addr requires a token unless allow_insecure is set.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

const (
	DefaultStartTimeout = 5 * time.Second
	DefaultStopTimeout  = 10 * time.Second
	DefaultLockTimeout  = 10 * time.Second
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: "info",
			File:  LoggingFile{Enabled: true},
		},
		Storage: StorageConfig{Driver: "file"},
	}
}

// InheritEnvOrDefault reports whether children get the daemon's environment.
func (c LauncherConfig) InheritEnvOrDefault() bool {
	if c.InheritEnv == nil {
		return true
	}
	return *c.InheritEnv
}

// Location resolves the scheduler timezone.
func (c SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// Validate checks values the JSON decoder cannot.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", c.Storage.Driver))
	}
	if _, err := c.Storage.BusyTimeoutValue(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Scheduler.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Daemon.Timeouts(); err != nil {
		errs = append(errs, err)
	}
	if c.Debug.Enabled && strings.TrimSpace(c.Debug.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(c.Debug.Addr)); err != nil {
			errs = append(errs, fmt.Errorf("debug.addr: %w", err))
		}
	}
	return errors.Join(errs...)
}
