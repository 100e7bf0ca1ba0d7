package errors

import "errors"

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNotHeld is returned by a release of a lock the caller does not hold.
	ErrNotHeld = errors.New("lock not held")
)
