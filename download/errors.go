package download

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork is returned for any failed transfer: a non-success status,
	// a transport failure, or a malformed body.
	ErrNetwork = errors.New("download: network error")

	// ErrDigestMismatch is returned when the body does not match the
	// configured digest.
	ErrDigestMismatch = errors.New("download: digest mismatch")
)

// StatusError is returned when the server answers with a non-success status.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download %s: unexpected status %s", e.URL, e.Status)
}

// Is reports whether target is ErrNetwork.
func (e *StatusError) Is(target error) bool { return target == ErrNetwork }

// Error wraps a transport or body failure.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is ErrNetwork.
func (e *Error) Is(target error) bool { return target == ErrNetwork }
