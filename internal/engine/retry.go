package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net"
	"time"
)

// RetryPolicy controls retry behavior.
type RetryPolicy struct {
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy is suitable for most provider calls.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:  3,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     5 * time.Second,
	Multiplier:  1.5,
}

// Backoff returns the wait before retry number attempt+1:
// min(InitialWait * Multiplier^attempt, MaxWait).
func (rp RetryPolicy) Backoff(attempt int) time.Duration {
	wait := time.Duration(float64(rp.InitialWait) * math.Pow(rp.Multiplier, float64(attempt)))
	if wait > rp.MaxWait {
		wait = rp.MaxWait
	}
	return wait
}

// RetryDo retries fn up to MaxRetries times with exponential backoff.
// Retries only on retryable errors; returns immediately on non-retryable or context cancellation.
func RetryDo[T any](ctx context.Context, rp RetryPolicy, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= rp.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}

		if attempt < rp.MaxRetries {
			wait := rp.Backoff(attempt)
			metrics.Retries.Add(1)
			slog.Debug("retrying", slog.Int("attempt", attempt+1), slog.Duration("wait", wait), slog.Any("error", err))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}
	return zero, lastErr
}

// IsRetryable returns true for transient errors worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Caller cancellation is final, even though DeadlineExceeded looks like a net.Error.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		var te *TimeoutError
		return errors.As(err, &te)
	}

	var circuitErr *CircuitOpenError
	if errors.As(err, &circuitErr) {
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return isRetryableStatus(statusErr.StatusCode)
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}

	// Connection errors (dial failures, connection refused, etc.)
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	// DNS errors
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	// Timeout errors (net.Error includes OpError, so check after OpError)
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}

	return false
}

// isRetryableStatus returns true for HTTP status codes worth retrying.
func isRetryableStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}
