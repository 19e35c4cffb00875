// Package retry provides a bounded retry policy with exponential backoff and
// full jitter. Send workers own a Policy; callers classify errors as
// permanent to stop early.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// Policy is an explicit bounded-retry schedule.
type Policy struct {
	// MaxAttempts counts the first try. Values below 1 mean 1.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// sleep and jitter are swapped out by tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// DefaultPolicy returns 3 attempts with 1s base and 30s cap.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Delay returns the backoff before the given retry (1-based).
// Uses exponential backoff with full jitter: random(0, min(maxDelay, baseDelay * 2^(attempt-1))),
// never less than 100ms.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && exp > float64(p.MaxDelay) {
		exp = float64(p.MaxDelay)
	}
	j := rand.Float64
	if p.jitter != nil {
		j = p.jitter
	}
	d := time.Duration(j() * exp)
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

// Attempts returns MaxAttempts clamped to at least one.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs fn until it succeeds, returns a permanent error, the context ends,
// or attempts run out. The returned int is the number of attempts made.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	var lastErr error
	max := p.Attempts()
	for attempt := 1; attempt <= max; attempt++ {
		if attempt > 1 {
			if err := p.wait(ctx, p.Delay(attempt-1)); err != nil {
				return attempt - 1, lastErr
			}
		}
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil {
			return attempt, err
		}
	}
	return max, &ExhaustedError{Attempts: max, Err: lastErr}
}

func (p Policy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
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

// ExhaustedError wraps the last error once every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return "retry: attempts exhausted: " + e.Err.Error()
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

type transientError struct{ err error }

func (e transientError) Error() string   { return e.err.Error() }
func (e transientError) Unwrap() error   { return e.err }
func (e transientError) Temporary() bool { return true }

// Transient marks err as retryable regardless of what the wrapped error
// reports. Network failures such as a refused connection are not
// Temporary() but are worth another attempt.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsRetryable reports whether err should be retried. Context errors and
// errors marked Permanent are not; errors exposing Temporary() decide for
// themselves; everything else (network failures) is retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var perm permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var tr transientError
	if errors.As(err, &tr) {
		return true
	}
	var tmp interface{ Temporary() bool }
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}
	return true
}

// IsRetryableStatus returns true if the HTTP status code indicates a
// transient server error that should be retried.
// Retries: 429 (Too Many Requests), 500, 502, 503, 504.
// Does NOT retry: 400, 401, 403, 404, or any other client error.
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
