package shopsync

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy() BackoffPolicy {
	return BackoffPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := fastPolicy().Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("transient"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	permanent := errors.New("bad request")
	err := fastPolicy().Retry(context.Background(), func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error back, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent error retried: %d calls", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy().Retry(context.Background(), func() error {
		calls++
		return Retryable(errors.New("still down"))
	})
	if err == nil || !IsRetryable(err) {
		t.Fatalf("expected retryable error after exhaustion, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	policy := BackoffPolicy{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}
	err := policy.Retry(ctx, func() error {
		calls++
		cancel()
		return Retryable(errors.New("transient"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestIsRetryableUnwraps(t *testing.T) {
	inner := errors.New("rate limited")
	wrapped := Retryable(inner)
	if !IsRetryable(wrapped) {
		t.Fatal("wrapped error not retryable")
	}
	if !errors.Is(wrapped, inner) {
		t.Fatal("Retryable must preserve the cause")
	}
	if IsRetryable(inner) {
		t.Fatal("unwrapped error must not be retryable")
	}
	if Retryable(nil) != nil {
		t.Fatal("Retryable(nil) must be nil")
	}
}
