package subprocess

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
)

// RetryConfig is the exponential backoff schedule from spec.md §4.9: base
// 2s, cap 30s, 3 attempts.
type RetryConfig struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
}

// DefaultRetryConfig matches spec.md §4.9's network retry policy.
var DefaultRetryConfig = RetryConfig{MaxAttempts: 3, Base: 2 * time.Second, Cap: 30 * time.Second}

// WithRetry calls fn up to cfg.MaxAttempts times with exponential backoff
// between attempts, stopping early if ctx is cancelled. It returns the last
// error if every attempt fails. Grounded on the goes dhcpcd command's
// jpillora/backoff.Backoff usage.
func WithRetry(ctx context.Context, cfg RetryConfig, log *logrus.Entry, fn func() error) error {
	b := &backoff.Backoff{
		Min:    cfg.Base,
		Max:    cfg.Cap,
		Factor: 2,
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := b.Duration()
		if log != nil {
			log.WithError(lastErr).WithField("attempt", attempt).Warnf("retrying in %s", wait)
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		}
	}
	return lastErr
}
