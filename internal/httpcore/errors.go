package httpcore

import (
	"errors"
	"fmt"
)

// Sentinel errors matching the typed error set in spec.md §4.A. Endpoint
// rotation and retry classification compare against these with errors.Is;
// the failsafe-go policies that produce the underlying condition
// (timeout.ErrExceeded, circuitbreaker.ErrOpen, ratelimiter.ErrExceeded,
// bulkhead.ErrFull) are translated to these at the client boundary so callers
// never need to import failsafe-go themselves.
var (
	ErrTimeout       = errors.New("httpcore: request timed out")
	ErrCircuitOpen   = errors.New("httpcore: circuit open on all endpoints")
	ErrPoolExhausted = errors.New("httpcore: connection pool exhausted")
	ErrRateLimited   = errors.New("httpcore: rate limit exceeded")
)

// HTTPError wraps a non-2xx venue response. Retryable for 5xx and 429;
// terminal for other 4xx.
type HTTPError struct {
	StatusCode int
	Body       string
	Endpoint   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("httpcore: endpoint %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// ConnectionError wraps a transport-level failure (DNS, dial, reset).
type ConnectionError struct {
	Endpoint string
	Cause    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("httpcore: connection to %s failed: %v", e.Endpoint, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// ParseError wraps a response body that failed to decode.
type ParseError struct {
	Endpoint string
	Cause    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("httpcore: decode response from %s failed: %v", e.Endpoint, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// AllEndpointsFailedError is returned once every configured endpoint has been
// tried, in order, and none produced a usable response.
type AllEndpointsFailedError struct {
	Endpoints []string
	LastErr   error
}

func (e *AllEndpointsFailedError) Error() string {
	return fmt.Sprintf("httpcore: all %d endpoints failed, last error: %v", len(e.Endpoints), e.LastErr)
}

func (e *AllEndpointsFailedError) Unwrap() error { return e.LastErr }
