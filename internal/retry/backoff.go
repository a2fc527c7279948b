// Package retry provides bounded exponential backoff for operations against
// flaky external commands and stores.
package retry

import (
	"context"
	"math"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
}

// Exponential calculates exponential backoff for a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
	}
	if attempt < 1 {
		return initial
	}
	backoff := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

// Policy bounds Do.
type Policy struct {
	// Retries is the number of extra attempts after the first one.
	Retries int
	Backoff Config
	// Retryable decides whether an error is worth another attempt. Nil retries every error.
	Retryable func(error) bool
	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Do runs op until it succeeds, returns a non-retryable error, or exhausts
// the policy. The last error is returned. Waiting honors ctx.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.Retries+1; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt > p.Retries {
			break
		}
		wait := Exponential(attempt, &p.Backoff)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, lastErr)
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}
