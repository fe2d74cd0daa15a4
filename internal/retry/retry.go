// Package retry provides a bounded retry executor with exponential backoff
// and jitter. The executor is purely mechanical: it decides when to run the
// operation again, never what the error means, and on exhaustion it returns
// the last error unchanged so callers can branch on its kind.
//
// Retried operations must be safe to repeat. The executor performs no
// deduplication of side effects.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Policy controls attempt count and delay growth for one call site.
// Distinct presets exist per resource class; policies are immutable.
type Policy struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int
	// InitialDelay is the wait after the first failed attempt.
	InitialDelay time.Duration
	// BackoffFactor multiplies the delay after every attempt.
	BackoffFactor float64
	// MaxDelay caps the grown delay before jitter is applied.
	MaxDelay time.Duration
	// JitterRatio randomizes each delay by ±ratio to avoid synchronized
	// retry storms across concurrent callers. Must be in [0, 1).
	JitterRatio float64
}

// StorePolicy is tuned for persistent-store operations: short delays and
// fast exhaustion, since a healthy store answers in milliseconds.
func StorePolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		InitialDelay:  50 * time.Millisecond,
		BackoffFactor: 1.5,
		MaxDelay:      500 * time.Millisecond,
		JitterRatio:   0.2,
	}
}

// NetworkPolicy is tuned for outbound HTTP calls: a larger backoff ceiling,
// since upstream hiccups tend to last longer than store hiccups.
func NetworkPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      5 * time.Second,
		JitterRatio:   0.2,
	}
}

// ConnectPolicy is tuned for connection establishment, which is costlier to
// retry than a single operation and warrants a higher attempt ceiling.
func ConnectPolicy() Policy {
	return Policy{
		MaxAttempts:   5,
		InitialDelay:  500 * time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      15 * time.Second,
		JitterRatio:   0.2,
	}
}

// Delay returns the wait before the given retry (attempt is 1-based: the
// delay after the attempt-th failure). The exponential growth is clamped to
// MaxDelay, then randomized by ±JitterRatio.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && d > max {
		d = max
	}

	if p.JitterRatio > 0 {
		d *= 1 + p.JitterRatio*(2*rand.Float64()-1)
	}

	return time.Duration(d)
}

// Do runs op up to policy.MaxAttempts times, waiting between attempts per
// the policy. The retryable predicate decides whether a failure is worth
// another attempt; a nil predicate retries every error. Waits are aborted by
// ctx cancellation, in which case ctx.Err() is returned. The final
// operation error is returned unchanged.
func Do(ctx context.Context, policy Policy, retryable func(error) bool, op func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}

		if attempt == attempts {
			break
		}

		if retryable != nil && !retryable(err) {
			break
		}

		select {
		case <-time.After(policy.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return err
}

// DoValue is Do for operations that produce a result. On failure the zero
// value is returned alongside the final error.
func DoValue[T any](ctx context.Context, policy Policy, retryable func(error) bool, op func(ctx context.Context) (T, error)) (T, error) {
	var result T

	err := Do(ctx, policy, retryable, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)

		return opErr
	})

	if err != nil {
		var zero T
		return zero, err
	}

	return result, nil
}
