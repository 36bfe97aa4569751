package shopsync

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryableError marks a transient failure (timeout, 5xx, rate limit).
// Everything else is treated as permanent and not retried.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// BackoffPolicy is the single retry policy shared by the remote fetcher
// and anything else that talks to the remote API. Parameterized per call
// site rather than duplicated inline.
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // 0..1 fraction of the delay
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

func (p BackoffPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Float64() * p.Jitter * float64(d))
	}
	return d
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is exhausted. The last error is returned as-is so callers
// can still classify it with IsRetryable.
func (p BackoffPolicy) Retry(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}
	return err
}
