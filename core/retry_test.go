package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gallerio/go-storage/core"
)

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	err := core.Retry(context.Background(), core.RetryPolicy{MaxAttempts: 5, Sleep: instantSleep}, func(context.Context) error {
		attempts++
		return core.NewValidationError("bad input")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("non-retryable error must not be retried, got %d attempts", attempts)
	}
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	attempts := 0
	err := core.Retry(context.Background(), core.RetryPolicy{MaxAttempts: 3, Sleep: instantSleep}, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return core.NewTransientError("flaky", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	wrapped := errors.New("socket closed")
	err := core.Retry(context.Background(), core.RetryPolicy{MaxAttempts: 2, Sleep: instantSleep}, func(context.Context) error {
		attempts++
		return core.NewTransientError("still down", wrapped)
	})
	if err == nil || attempts != 2 {
		t.Fatalf("expected exhaustion after 2 attempts, got %d attempts err %v", attempts, err)
	}
	if !errors.Is(err, wrapped) {
		t.Fatalf("expected wrapped cause to survive, got %v", err)
	}
}

func TestRetryHonorsRetryAfterHint(t *testing.T) {
	var slept []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	attempts := 0
	policy := core.RetryPolicy{MaxAttempts: 2, Initial: time.Millisecond, Max: time.Second, Sleep: sleep}
	err := core.Retry(context.Background(), policy, func(context.Context) error {
		attempts++
		if attempts == 1 {
			return core.NewRateLimitedError("slow down", 250*time.Millisecond)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(slept) != 1 || slept[0] != 250*time.Millisecond {
		t.Fatalf("expected the provider hint to set the delay, got %v", slept)
	}
}

func TestRetryStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := core.Retry(ctx, core.RetryPolicy{MaxAttempts: 5, Sleep: instantSleep}, func(context.Context) error {
		attempts++
		cancel()
		return core.NewTransientError("interrupted", nil)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestNextDelayGrowsExponentiallyToCap(t *testing.T) {
	policy := core.RetryPolicy{Initial: 100 * time.Millisecond, Max: 350 * time.Millisecond}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 350 * time.Millisecond},
		{10, 350 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := policy.NextDelay(tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}
