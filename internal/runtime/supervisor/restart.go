package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	logx "singleschedule/pkg/logx"
)

// healthyRun is how long a run must last for the backoff to start over.
const healthyRun = 30 * time.Second

// RestartOption configures GoRestart.
type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max    time.Duration
	maxRestarts int // <= 0 is unlimited
}

// WithRestartBackoff sets the exponential backoff window between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithMaxRestarts gives up, recording a failure, after n restarts. The
// first run does not count.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.maxRestarts = n } }

// delay returns the wait before the next restart with up to 20% jitter.
func (p restartPolicy) delay(base time.Duration) time.Duration {
	if j := int64(base) / 5; j > 0 {
		return base + time.Duration(rand.Int64N(j+1))
	}
	return base
}

// GoRestart runs fn and reruns it after each error or panic until ctx is
// canceled or fn returns nil. Watchers use it so a transient failure does
// not bring the daemon down.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{min: 250 * time.Millisecond, max: 30 * time.Second}
	for _, o := range opts {
		o(&p)
	}
	p.max = max(p.max, p.min)

	s.Go(name, func(ctx context.Context) error {
		backoff := p.min
		for restarts := 0; ; restarts++ {
			began := time.Now()
			err := s.protect(name, fn)
			if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if p.maxRestarts > 0 && restarts >= p.maxRestarts {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				return fmt.Errorf("gave up after %d restarts: %w", restarts, err)
			}
			if time.Since(began) >= healthyRun {
				backoff = p.min
			}

			wait := p.delay(backoff)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			backoff = min(backoff*2, p.max)
		}
	})
}
