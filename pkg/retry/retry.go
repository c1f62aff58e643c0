package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted every attempt failed with a retryable error
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy bounded exponential backoff. The delay before attempt n+1 is
// InitialDelay * Multiplier^(n-1), capped at MaxDelay when MaxDelay > 0.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration

	// Retryable decides whether an error is worth another attempt; nil retries everything
	Retryable func(err error) bool
	// OnRetry is called before sleeping ahead of the next attempt
	OnRetry func(attempt int, delay time.Duration, err error)
	// Sleep waits between attempts; tests replace it to avoid real delays
	Sleep func(ctx context.Context, d time.Duration) error
}

// Backoff delay after the given failed attempt (1-based)
func (p Policy) Backoff(attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= multiplier
		if p.MaxDelay > 0 && delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts run out. The returned error wraps the last failure; on
// exhaustion it also wraps ErrExhausted.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w after %d attempts: %w", err, attempt-1, lastErr)
			}
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w after %d attempts: %w", err, attempt, lastErr)
		}
	}

	return fmt.Errorf("%w (%d attempts): %w", ErrExhausted, attempts, lastErr)
}

// SleepContext waits d or until ctx is done
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
