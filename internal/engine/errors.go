package engine

import (
	"fmt"
	"net/http"
	"time"
)

// NetworkError is a DNS, connect or reset failure. Retryable.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error for %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError means a single attempt exceeded its timeout. Retryable.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s for %s", e.Timeout, e.URL)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// HTTPStatusError is a non-2xx upstream status.
// Only 429, 500, 502, 503 and 504 are retried.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// CircuitOpenError is returned without any network attempt while a host
// circuit is open (or its half-open trial slots are taken).
type CircuitOpenError struct {
	Host    string
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("circuit open for %s", e.Host)
	}
	return fmt.Sprintf("circuit open for %s until %s", e.Host, e.RetryAt.Format(time.RFC3339))
}
