package netutil

import (
	"errors"
	"fmt"
)

// Sentinel failures for bounded fetches. Transport-level failures wrap
// ErrUnreachable so callers can classify without inspecting net errors.
var (
	ErrRobotsBlocked    = errors.New("netutil: blocked by robots.txt")
	ErrResponseTooLarge = errors.New("netutil: response exceeds size limit")
	ErrResponseTooSlow  = errors.New("netutil: response exceeded time limit")
	ErrNoContent        = errors.New("netutil: response has no content")
	ErrUnreachable      = errors.New("netutil: host unreachable")
)

// HTTPStatusError indicates the server responded, but with an unexpected
// HTTP status code. This is a non-network failure.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("netutil: unexpected status %d from %s", e.StatusCode, e.URL)
}

// NonRetryableError indicates request setup failed before any transport
// attempt was made (for example, malformed URL).
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("netutil: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}
