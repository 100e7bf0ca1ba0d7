package lock

import (
	"context"
	"time"
)

// Lock is an exclusion lock as seen by the watchdog and by project code.
type Lock interface {
	// TryAcquire waits up to timeout for the lock. It reports false with a
	// nil error when the timeout elapses, and returns ctx's error when ctx
	// ends first.
	TryAcquire(ctx context.Context, timeout time.Duration) (bool, error)

	// Release frees the lock. Calling it without holding the lock must not
	// panic; implementations return ErrNotHeld from v1/errors instead.
	Release(ctx context.Context) error

	// String describes the lock for diagnostics.
	String() string
}

// Locker manages many locks addressed by key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Acquire(ctx context.Context, key string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}
