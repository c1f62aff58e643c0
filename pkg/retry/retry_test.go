package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")
var errFatal = errors.New("fatal")

func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{InitialDelay: 2 * time.Second, Multiplier: 2}
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 8*time.Second, p.Backoff(3))

	p.MaxDelay = 5 * time.Second
	assert.Equal(t, 5*time.Second, p.Backoff(3))

	flat := Policy{InitialDelay: time.Second}
	assert.Equal(t, time.Second, flat.Backoff(4))
}

func TestPolicy_Do(t *testing.T) {
	ctx := context.Background()

	t.Run("exhausts after max attempts with growing delay", func(t *testing.T) {
		var delays []time.Duration
		calls := 0
		p := Policy{
			MaxAttempts:  3,
			InitialDelay: 2 * time.Second,
			Multiplier:   2,
			Retryable:    func(err error) bool { return errors.Is(err, errTransient) },
			Sleep:        recordingSleep(&delays),
		}

		err := p.Do(ctx, func(context.Context, int) error {
			calls++
			return errTransient
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrExhausted)
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, delays)
	})

	t.Run("stops on non retryable error", func(t *testing.T) {
		var delays []time.Duration
		calls := 0
		p := Policy{
			MaxAttempts: 3,
			Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
			Sleep:       recordingSleep(&delays),
		}

		err := p.Do(ctx, func(context.Context, int) error {
			calls++
			return errFatal
		})

		assert.Equal(t, errFatal, err)
		assert.Equal(t, 1, calls)
		assert.Empty(t, delays)
	})

	t.Run("succeeds on a later attempt", func(t *testing.T) {
		var delays []time.Duration
		var retried []int
		p := Policy{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			Multiplier:   2,
			Sleep:        recordingSleep(&delays),
			OnRetry:      func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) },
		}

		err := p.Do(ctx, func(_ context.Context, attempt int) error {
			if attempt < 3 {
				return errTransient
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, []int{1, 2}, retried)
		assert.Len(t, delays, 2)
	})

	t.Run("context cancelled while sleeping", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		p := Policy{
			MaxAttempts:  3,
			InitialDelay: time.Hour,
			Sleep: func(c context.Context, d time.Duration) error {
				cancel()
				return SleepContext(c, d)
			},
		}

		err := p.Do(cctx, func(context.Context, int) error { return errTransient })
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, errTransient)
		assert.NotErrorIs(t, err, ErrExhausted)
	})

	t.Run("zero attempts still tries once", func(t *testing.T) {
		calls := 0
		err := Policy{}.Do(ctx, func(context.Context, int) error {
			calls++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})
}
