package config

import (
	"fmt"
	"strings"
	"time"
)

// DefaultBusyTimeout applies to the sqlite driver when storage.busy_timeout
// is unset.
const DefaultBusyTimeout = 5 * time.Second

// Timeouts are the resolved daemon durations.
type Timeouts struct {
	Start time.Duration
	Stop  time.Duration
	Lock  time.Duration
}

// Timeouts resolves the daemon section, using defaults for unset or zero
// values.
func (c DaemonConfig) Timeouts() (Timeouts, error) {
	var (
		out Timeouts
		err error
	)
	if out.Start, err = durationOr("daemon.start_timeout", c.StartTimeout, DefaultStartTimeout); err != nil {
		return Timeouts{}, err
	}
	if out.Stop, err = durationOr("daemon.stop_timeout", c.StopTimeout, DefaultStopTimeout); err != nil {
		return Timeouts{}, err
	}
	if out.Lock, err = durationOr("daemon.lock_timeout", c.LockTimeout, DefaultLockTimeout); err != nil {
		return Timeouts{}, err
	}
	return out, nil
}

// BusyTimeoutValue resolves storage.busy_timeout.
func (c StorageConfig) BusyTimeoutValue() (time.Duration, error) {
	return durationOr("storage.busy_timeout", c.BusyTimeout, DefaultBusyTimeout)
}

// parseDuration accepts an empty string as zero and rejects negatives.
func parseDuration(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}

func durationOr(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := parseDuration(field, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
