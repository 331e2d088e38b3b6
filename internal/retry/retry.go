package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrExhausted is returned (wrapping the last failure) when every attempt failed.
var ErrExhausted = errors.New("retries exhausted")

// Policy configures Do.
type Policy struct {
	MaxAttempts int           // total attempts, including the first; values < 1 mean 1
	BaseDelay   time.Duration // delay before the second attempt, doubled each time
	MaxDelay    time.Duration // upper bound for a single delay; 0 means unbounded
}

// permanentError stops retrying immediately.
type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Do runs op until it succeeds, returns a Permanent error, the attempts run
// out, or ctx is done. The returned error wraps both ErrExhausted and the last
// failure when attempts run out.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	attempts := max(policy.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Debug("retry succeeded", "attempt", attempt)
			}
			return nil
		}

		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		lastErr = err
		if attempt == attempts {
			break
		}

		delay := Backoff(policy, attempt)
		slog.Debug("attempt failed, retrying", "attempt", attempt, "max_attempts", attempts, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, policy, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// Backoff returns the delay after the given failed attempt (1-based):
// BaseDelay * 2^(attempt-1), capped at MaxDelay.
func Backoff(policy Policy, attempt int) time.Duration {
	if policy.BaseDelay <= 0 || attempt < 1 {
		return 0
	}
	delay := policy.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if policy.MaxDelay > 0 && delay >= policy.MaxDelay {
			return policy.MaxDelay
		}
	}
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		return policy.MaxDelay
	}
	return delay
}
