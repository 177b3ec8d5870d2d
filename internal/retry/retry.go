// Package retry wraps github.com/cenkalti/backoff/v4 with the gateway's
// retryable-status predicate (spec §4.4), adapted from the teacher's
// infrastructure/resilience package.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config configures one retry sequence.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0-1, randomization factor
}

// DefaultConfig matches spec §4.4's defaults: up to 3 attempts, 100ms
// initial backoff doubling to a 10s ceiling, 10% jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Do executes fn with exponential backoff. fn should return a nil error on
// success, a permanent error wrapped with backoff.Permanent to stop
// retrying immediately (e.g. a validation failure), or a plain error to
// retry.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if cfg.InitialDelay > 0 {
		bo.InitialInterval = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		bo.MaxInterval = cfg.MaxDelay
	}
	if cfg.Multiplier > 0 {
		bo.Multiplier = cfg.Multiplier
	}
	bo.RandomizationFactor = cfg.Jitter
	bo.MaxElapsedTime = 0

	maxRetries := uint64(cfg.MaxAttempts - 1)
	withMax := backoff.WithMaxRetries(bo, maxRetries)
	withCtx := backoff.WithContext(withMax, ctx)

	return backoff.Retry(fn, withCtx)
}

// Permanent marks err as non-retryable, stopping the sequence immediately.
func Permanent(err error) error { return backoff.Permanent(err) }

// RetryableStatus reports whether an HTTP status code should be retried,
// per spec §4.4: 500/502/503/504/429 retry, 400/401/403/404 do not.
func RetryableStatus(status int) bool {
	switch status {
	case 500, 502, 503, 504, 429:
		return true
	default:
		return false
	}
}
