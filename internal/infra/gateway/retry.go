package gateway

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryConfig defines retry behavior for gateway calls that are safe to
// retry internally (chain-tip refresh). Range queries are never retried
// here; their retry policy belongs to the navigation layer.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    500 * time.Millisecond,
	MaxDelay:        5 * time.Second,
	BackoffMultiple: 2.0,
}

// Retryable reports whether an error is worth another attempt. Malformed
// responses and missing resources are stable; transport failures and rate
// limits are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformed) || errors.Is(err, ErrNotFound) {
		return false
	}
	return true
}

// DoWithRetry executes fn with exponential backoff until it succeeds, the
// error classifies as permanent, or attempts run out.
func DoWithRetry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := fn(ctx); err == nil {
			return nil
		} else {
			lastErr = err
			if !Retryable(err) {
				return err
			}
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.BackoffMultiple, float64(attempt)))
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}
