// Package retry retries calls that fail with transient provider errors.
package retry

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Defaults applied by Policy.withDefaults.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 2 * time.Second
	DefaultMaxDelay   = 30 * time.Second
)

// transientMarkers are matched case-insensitively against error text.
var transientMarkers = []string{
	"overload",
	"unavailable",
	"503",
	"429",
	"529",
	"resource exhausted",
	"resource_exhausted",
	"rate limit",
	"too many requests",
	"timeout",
	"deadline exceeded",
	"connection reset",
	"connection refused",
}

// IsTransient reports whether err looks like a temporary provider failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Policy is a bounded exponential backoff. Zero fields take the defaults.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	} else if p.MaxRetries == 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Sleep == nil {
		p.Sleep = sleep
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return p
}

// Delay returns the backoff before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// Do calls fn until it succeeds, fails with a non-transient error, or the
// retry budget is spent. A negative MaxRetries disables retrying. When ctx
// ends during backoff the last call's error is returned.
func Do[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	var zero T
	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !IsTransient(err) || attempt >= p.MaxRetries {
			return zero, err
		}
		delay := p.Delay(attempt)
		p.Logger.Warn("transient failure, retrying",
			"op", op, "attempt", attempt+1, "delay", delay, "error", err)
		if serr := p.Sleep(ctx, delay); serr != nil {
			return zero, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
