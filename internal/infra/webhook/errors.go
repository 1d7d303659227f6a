package webhook

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when no webhook base URL is set.
var ErrNotConfigured = errors.New("webhook base url not configured")

// ErrResponseTooLarge is returned when the engine's response body exceeds the
// client's limit. It is not retried.
var ErrResponseTooLarge = errors.New("webhook response too large")

// StatusError describes an HTTP-level failure from the workflow engine.
// It is passed to OnRetry for 5xx responses; Call itself returns those
// responses rather than raising.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// ExhaustedError is returned when every permitted attempt failed at the
// transport level.
type ExhaustedError struct {
	Destination string
	Attempts    []Attempt
	Err         error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("webhook %s failed after %d attempts: %v", e.Destination, len(e.Attempts), e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}
