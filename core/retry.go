package core

import (
	"context"
	"time"
)

const (
	defaultRetryMaxAttempts    = 3
	defaultRetryInitialBackoff = 500 * time.Millisecond
	defaultRetryMaxBackoff     = 10 * time.Second
)

// RetryPolicy bounds the shared retry-with-backoff utility. Every adapter
// call site and the sync engine go through Retry instead of reimplementing
// backoff math.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	// Sleep exists so tests can observe delays without waiting them out.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultRetryMaxAttempts,
		Initial:     defaultRetryInitialBackoff,
		Max:         defaultRetryMaxBackoff,
	}
}

// NextDelay computes the exponential delay for the given attempt, capped at
// the policy maximum.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := p.Initial
	if initial <= 0 {
		initial = defaultRetryInitialBackoff
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = defaultRetryMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

// Retry runs op, re-attempting only retryable failures (transient network
// and rate-limit kinds). A provider-signaled retry-after hint overrides the
// computed delay. Non-retryable errors propagate immediately.
func Retry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultRetryMaxAttempts
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			return lastErr
		}

		delay := policy.NextDelay(attempt)
		if hint, ok := RetryAfterHint(lastErr); ok && hint > delay {
			delay = hint
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
