package pool

import (
	"context"
	"time"
)

// RetryPolicy configures Retry.
type RetryPolicy struct {
	Attempts  int           // total attempts, including the first
	BaseDelay time.Duration // delay after attempt n is BaseDelay * 2^(n-1)
	Retryable func(error) bool
	OnRetry   func(err error, attempt int, delay time.Duration)
}

// Delay returns the wait after the given 1-indexed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay << (attempt - 1)
}

// Retry runs fn until it succeeds, fails with a non-retryable error, or
// the attempts are used up. The last error is returned.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var result T
		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt == attempts || !retryable(err) {
			return zero, err
		}

		delay := policy.Delay(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt, delay)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, err
}
