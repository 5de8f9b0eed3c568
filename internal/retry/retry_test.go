package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTerminal = errors.New("permanent")

func testPolicy(delays *[]time.Duration) Policy {
	p := Policy{
		MaxAttempts:   4,
		BaseDelay:     100 * time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      time.Second,
		Classify: func(err error) Class {
			if errors.Is(err, errTerminal) {
				return Terminal
			}
			return Retryable
		},
	}
	p.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return p
}

func TestDoSuccessFirstAttempt(t *testing.T) {
	var delays []time.Duration
	calls := 0
	got, err := Do(context.Background(), testPolicy(&delays), "op", func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestDoRetryThenSuccess(t *testing.T) {
	var delays []time.Duration
	calls := 0
	got, err := Do(context.Background(), testPolicy(&delays), "op", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("503")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
}

func TestDoTerminalDoesNotRetry(t *testing.T) {
	var delays []time.Duration
	calls := 0
	_, err := Do(context.Background(), testPolicy(&delays), "op", func(context.Context) (int, error) {
		calls++
		return 0, errTerminal
	})
	require.ErrorIs(t, err, errTerminal)
	assert.NotErrorIs(t, err, ErrExhaustedRetries)
	assert.Equal(t, 1, calls)
}

func TestDoExhausted(t *testing.T) {
	var delays []time.Duration
	calls := 0
	cause := errors.New("timeout")
	_, err := Do(context.Background(), testPolicy(&delays), "search", func(context.Context) (int, error) {
		calls++
		return 0, cause
	})
	require.ErrorIs(t, err, ErrExhaustedRetries)
	require.ErrorIs(t, err, cause)

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, "search", ex.Op)
	assert.Equal(t, 4, ex.Attempts)
	assert.Equal(t, 4, calls)
	assert.Len(t, delays, 3)
}

func TestDoContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Run(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Second}, "op", func(context.Context) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDelay(t *testing.T) {
	p := Policy{BaseDelay: time.Second, BackoffFactor: 3, MaxDelay: 5 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 3 * time.Second},
		{3, 5 * time.Second},
		{0, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := Policy{BaseDelay: time.Second, BackoffFactor: 2, Jitter: 0.2}
	for range 50 {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}
