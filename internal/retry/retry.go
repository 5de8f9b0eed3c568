// Package retry runs operations under a bounded exponential-backoff policy
// with a pluggable error classifier.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// Class tells the policy whether a failed attempt may be retried.
type Class int

const (
	Retryable Class = iota
	Terminal
)

func (c Class) String() string {
	if c == Terminal {
		return "terminal"
	}
	return "retryable"
}

// Classifier maps an error to a Class.
type Classifier func(error) Class

// ErrExhaustedRetries is matched by every ExhaustedError.
var ErrExhaustedRetries = errors.New("retries exhausted")

// ExhaustedError reports an operation that failed on every attempt.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhaustedRetries, e.Last}
}

// Policy controls retry behavior. The delay after attempt k is
// BaseDelay * BackoffFactor^(k-1), capped at MaxDelay, then spread by
// +/- Jitter (a fraction of the delay).
type Policy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	Jitter        float64
	Classify      Classifier
	Logger        *slog.Logger

	sleep func(context.Context, time.Duration) error
}

// Delay returns the wait after the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.BaseDelay) * math.Pow(factor, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func (p Policy) classify(err error) Class {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Terminal
	}
	if p.Classify == nil {
		return Retryable
	}
	return p.Classify(err)
}

func (p Policy) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Do runs fn until it succeeds, returns a terminal error, or uses up
// MaxAttempts. Terminal errors are returned as-is; exhaustion returns an
// *ExhaustedError wrapping the last failure.
func Do[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	log := p.logger()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if p.classify(err) == Terminal {
			log.Debug("terminal error", slog.String("op", op), slog.Int("attempt", attempt), slog.Any("error", err))
			return zero, err
		}

		log.Warn("attempt failed",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Any("error", err))

		if attempt < attempts {
			if err := sleep(ctx, p.Delay(attempt)); err != nil {
				return zero, err
			}
		}
	}

	log.Error("retries exhausted", slog.String("op", op), slog.Int("attempts", attempts), slog.Any("error", lastErr))
	return zero, &ExhaustedError{Op: op, Attempts: attempts, Last: lastErr}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op string, fn func(context.Context) error) error {
	_, err := Do(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
