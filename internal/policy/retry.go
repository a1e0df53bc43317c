package policy

import (
	"context"

	"github.com/ocx/kvcoord/internal/xerr"
)

// RetryConfig is the pool-wide "global policy": retry recoverable
// failures up to MaxAttempts times total (the first try plus retries).
type RetryConfig struct {
	MaxAttempts int
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3}
}

// Retry runs fn, retrying while the returned error is a recoverable
// *xerr.Error, up to cfg.MaxAttempts total attempts. It returns the last
// error seen once attempts are exhausted, or nil on the first success.
// Non-recoverable errors are returned immediately without retrying.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !xerr.IsRecoverable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}
