// Package ratelimit bounds outbound provider work: a concurrency ceiling, a
// token-bucket rate, and the run-wide quota token.
package ratelimit

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Executor gates tasks by in-flight count and sustained rate. Tasks that
// exceed either limit wait; they never fail because of the gate itself.
type Executor struct {
	sem *semaphore.Weighted
	lim *rate.Limiter

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	submitted   atomic.Int64
}

// New creates an executor allowing concurrency parallel tasks at rps tasks
// per second with the given burst. rps <= 0 disables the rate ceiling.
func New(concurrency int, rps float64, burst int) *Executor {
	if concurrency < 1 {
		concurrency = 1
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &Executor{
		sem: semaphore.NewWeighted(int64(concurrency)),
		lim: rate.NewLimiter(limit, burst),
	}
}

// NewPool creates an executor with a concurrency bound only. It backs the
// media worker pool.
func NewPool(workers int) *Executor {
	return New(workers, 0, 1)
}

// Submit runs task once a slot and a rate token are available. Waiting
// honors ctx.
func (e *Executor) Submit(ctx context.Context, task func(context.Context) error) error {
	if e == nil {
		return task(ctx)
	}
	e.submitted.Add(1)

	// The semaphore queues waiters in order, which keeps scheduling fair.
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)

	if err := e.lim.Wait(ctx); err != nil {
		return err
	}

	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		cur := e.maxInFlight.Load()
		if n <= cur || e.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	return task(ctx)
}

// Do runs task through e and returns its result.
func Do[T any](ctx context.Context, e *Executor, task func(context.Context) (T, error)) (T, error) {
	var result T
	err := e.Submit(ctx, func(ctx context.Context) error {
		var err error
		result, err = task(ctx)
		return err
	})
	return result, err
}

// Stats reports executor counters.
type Stats struct {
	Submitted   int64
	InFlight    int64
	MaxInFlight int64
}

// Stats returns a snapshot of the executor counters.
func (e *Executor) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	return Stats{
		Submitted:   e.submitted.Load(),
		InFlight:    e.inFlight.Load(),
		MaxInFlight: e.maxInFlight.Load(),
	}
}
