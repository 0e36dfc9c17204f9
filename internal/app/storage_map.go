package app

import (
	"fmt"
	"path/filepath"
	"strings"

	"singleschedule/internal/cronexpr"
	"singleschedule/internal/storage"
	"singleschedule/internal/task"
)

func mapStorageConfig(cfg *Config, home string) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(home, path)
	}

	timeouts, err := cfg.Daemon.Timeouts()
	if err != nil {
		return storage.Config{}, err
	}
	out := storage.Config{
		Path:        path,
		LockTimeout: timeouts.Lock,
		Validate:    validateTask,
	}

	switch driver {
	case "", "file", "json":
		out.Driver = "file"
		if out.Path == "" {
			out.Path = filepath.Join(home, "tasks.json")
		}
	case "sqlite", "sqlite3":
		out.Driver = "sqlite"
		if out.Path == "" {
			out.Path = filepath.Join(home, "tasks.db")
		}
		busy, err := sc.BusyTimeoutValue()
		if err != nil {
			return storage.Config{}, err
		}
		out.BusyTimeout = busy
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	return out, nil
}

// validateTask is the store's per-task check: the cron expression must parse.
func validateTask(t task.Task) error {
	return cronexpr.Validate(t.Cron)
}
