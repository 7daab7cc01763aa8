package speech

import (
	"context"
	"log/slog"
	"time"
)

// Retry defaults.
const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 250 * time.Millisecond
)

// RetryPolicy bounds how transient failures are retried.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetryPolicy returns the standard small, fixed retry budget.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultAttempts, BaseDelay: DefaultBaseDelay}
}

// Backoff returns the delay before retry n (1-based): base, 2*base, 4*base, ...
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return p.BaseDelay * time.Duration(1<<(n-1))
}

// Do calls fn until it succeeds, fails with a non-transient kind, the attempts
// are exhausted, or ctx is done. Rate limits and missing capabilities are never
// retried.
func Do[T any](ctx context.Context, p RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var zero T
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		kind := Kind(err)
		if kind != KindTransient || attempt == attempts {
			slog.Warn("speech.Do: giving up", "op", op, "attempt", attempt, "kind", kind, "error", err)
			return zero, err
		}
		delay := p.Backoff(attempt)
		slog.Debug("speech.Do: retrying", "op", op, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, err
}
