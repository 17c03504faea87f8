package fetch

import (
	"errors"
	"fmt"
	"net"
)

// Typed transfer errors enabling structured classification without string
// parsing upstream.

// TimeoutError indicates the connect or overall transfer deadline expired.
type TimeoutError struct {
	URI string
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout fetching %s: %v", e.URI, e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// NetworkError indicates a connection-level failure (refused, reset, DNS).
type NetworkError struct {
	URI string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URI, e.Err)
}
func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError indicates the server answered with a non-2xx status.
type HTTPError struct {
	URI    string
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d fetching %s", e.Status, e.URI)
}

// IsTransient reports whether a failed fetch is worth retrying. Timeouts,
// connection failures, and 5xx/429 responses are transient; client errors
// (other 4xx) are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status >= 500 || he.Status == 429
	}
	if errors.As(err, new(*TimeoutError)) {
		return true
	}
	if errors.As(err, new(*NetworkError)) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return nerr.Timeout()
	}
	return false
}
