package etl

import (
	"errors"
	"fmt"
)

var (
	// ErrCursorExpired means the scroll lease elapsed; the run must restart
	// from the last checkpoint.
	ErrCursorExpired = errors.New("cursor expired")

	ErrRetryExhausted     = errors.New("bulk write retries exhausted")
	ErrFatalBackend       = errors.New("fatal backend error")
	ErrMissingOrderingKey = errors.New("document has no usable ordering key")
	ErrOrderingViolation  = errors.New("ordering key decreased")
)

// TransientError marks a failure worth retrying the whole batch for:
// connection resets, timeouts and overloaded clusters.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient I/O failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// FatalBackendError is a response no amount of retrying will change, such
// as rejected credentials or a malformed request.
type FatalBackendError struct {
	Status int
	Reason string
}

func (e *FatalBackendError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("fatal backend error: %s", e.Reason)
	}
	return fmt.Sprintf("fatal backend error: HTTP %d: %s", e.Status, e.Reason)
}

func (e *FatalBackendError) Unwrap() error {
	return ErrFatalBackend
}
