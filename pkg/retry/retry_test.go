package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRefused = errors.New("connection refused")

func fast(n int) []Option {
	return []Option{WithMaxAttempts(n), WithInitialDelay(time.Millisecond), WithMaxDelay(2 * time.Millisecond), WithJitter(0)}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retries []int
	opts := append(fast(3), WithOnRetry(func(attempt int, _ error, _ time.Duration) {
		retries = append(retries, attempt)
	}))

	err := New(opts...).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errRefused
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestDo_GivesUp(t *testing.T) {
	calls := 0
	err := New(fast(4)...).Do(context.Background(), func(context.Context) error {
		calls++
		return errRefused
	})

	assert.ErrorIs(t, err, errRefused)
	assert.Equal(t, 4, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	badURL := errors.New("parse redis url")
	err := New(fast(5)...).Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(badURL)
	})

	assert.Equal(t, badURL, err)
	assert.Equal(t, 1, calls)
	assert.False(t, IsPermanent(err))
	assert.Nil(t, Permanent(nil))
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := New(WithMaxAttempts(5), WithInitialDelay(time.Hour)).Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errRefused
	})

	assert.ErrorIs(t, err, errRefused)
	assert.Equal(t, 1, calls)
}

func TestStoreConnectRetrier(t *testing.T) {
	var delays []time.Duration
	r := StoreConnectRetrier(WithInitialDelay(time.Millisecond), WithJitter(0),
		WithOnRetry(func(_ int, _ error, d time.Duration) { delays = append(delays, d) }))

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errRefused
	})
	assert.ErrorIs(t, err, errRefused)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestDelay_CappedWithoutJitter(t *testing.T) {
	r := New(WithInitialDelay(100*time.Millisecond), WithMaxDelay(300*time.Millisecond), WithJitter(0))
	assert.Equal(t, 100*time.Millisecond, r.delay(1))
	assert.Equal(t, 200*time.Millisecond, r.delay(2))
	assert.Equal(t, 300*time.Millisecond, r.delay(3))
	assert.Equal(t, 300*time.Millisecond, r.delay(8))
}
