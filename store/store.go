// Package store defines the persistent blob store used to keep a dataset
// snapshot across process restarts.
//
// A store holds opaque binary payloads by key. Implementations embed a
// schema version in their identity: bumping the version selects a fresh,
// empty store and never reads entries written under an older version.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrStorage is returned when the persistent store cannot be opened, read,
// or written.
var ErrStorage = errors.New("store: storage error")

// Store is a durable key/value store for binary payloads.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Open creates the underlying storage on first use. It is idempotent;
	// Get and Put call it implicitly.
	Open(ctx context.Context) error

	// Get returns the payload stored under key.
	// A missing key returns nil, false, nil.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores data under key, replacing any existing value.
	Put(ctx context.Context, key string, data []byte) error
}

// Error describes a failed store operation.
type Error struct {
	Op  string // "open", "get" or "put"
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is ErrStorage.
func (e *Error) Is(target error) bool { return target == ErrStorage }

// Wrap returns err as a *Error for op and key. A nil err returns nil.
func Wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Key: key, Err: err}
}
