package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorBoundsConcurrency(t *testing.T) {
	e := New(3, 0, 1)
	var cur, peak atomic.Int64

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := e.Submit(context.Background(), func(context.Context) error {
				n := cur.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				cur.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(3))
	stats := e.Stats()
	assert.Equal(t, int64(20), stats.Submitted)
	assert.LessOrEqual(t, stats.MaxInFlight, int64(3))
	assert.Zero(t, stats.InFlight)
}

func TestExecutorEnforcesRate(t *testing.T) {
	e := New(10, 20, 1)
	start := time.Now()
	for range 5 {
		require.NoError(t, e.Submit(context.Background(), func(context.Context) error { return nil }))
	}
	// Four waits of 50ms after the initial burst token.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestExecutorWaitHonorsContext(t *testing.T) {
	e := New(1, 0, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = e.Submit(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := e.Submit(ctx, func(context.Context) error {
		ran = true
		return nil
	})
	close(release)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)
}

func TestDoReturnsResult(t *testing.T) {
	e := NewPool(2)
	got, err := Do(context.Background(), e, func(context.Context) (string, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", got)
}

func TestNilExecutorRunsInline(t *testing.T) {
	var e *Executor
	got, err := Do(context.Background(), e, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestQuotaTripOnce(t *testing.T) {
	q := NewQuota()
	assert.False(t, q.Exceeded())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Trip()
		}()
	}
	wg.Wait()

	assert.True(t, q.Exceeded())

	var nilQuota *Quota
	assert.False(t, nilQuota.Exceeded())
	nilQuota.Trip()
}
