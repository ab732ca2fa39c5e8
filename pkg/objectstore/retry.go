package objectstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy configures retries of idempotent operations that failed with a
// transient error. The zero value disables retries.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy provides default retry settings
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	Multiplier:      2.0,
}

// backOff maps the policy onto an exponential backoff bounded by MaxRetries
// and ctx.
func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	if b.InitialInterval <= 0 {
		b.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.MaxElapsedTime = 0

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// do runs op until it succeeds, fails with a non-transient error, the context
// ends, or the retries are exhausted. The last error from op is returned as is.
func (p RetryPolicy) do(ctx context.Context, logger *slog.Logger, opName string, op func(ctx context.Context) error) error {
	var last error
	attempt := 0

	operation := func() error {
		last = op(ctx)
		if last != nil && !IsTransient(last) {
			return backoff.Permanent(last)
		}
		return last
	}
	notify := func(err error, next time.Duration) {
		attempt++
		logger.Warn("operation failed, retrying",
			"op", opName,
			"attempt", attempt,
			"max_retries", p.MaxRetries,
			"next_interval", next,
			"error", err)
	}

	if err := backoff.RetryNotify(operation, p.backOff(ctx), notify); err != nil {
		return last
	}
	return nil
}
