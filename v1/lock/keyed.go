package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// KeyedLock is a single key of a Locker, usable as a Lock.
type KeyedLock struct {
	locker Locker
	key    string
	ttl    time.Duration
}

// watcher is a Locker that must follow a key's events before it can tell
// whether another node holds it.
type watcher interface {
	Watch(key string) error
}

// Keyed binds key of l into a Lock. Acquisitions use ttl; zero means the
// lock does not expire. A locker that watches keys starts watching key
// here; if that fails, TryAcquire retries it and reports the error.
func Keyed(l Locker, key string, ttl time.Duration) *KeyedLock {
	if w, ok := l.(watcher); ok {
		_ = w.Watch(key)
	}
	return &KeyedLock{locker: l, key: key, ttl: ttl}
}

// TryAcquire implements Lock.TryAcquire.
func (k *KeyedLock) TryAcquire(ctx context.Context, timeout time.Duration) (bool, error) {
	ok, err := k.locker.TryLock(ctx, k.key, k.ttl)
	if err != nil || ok || timeout <= 0 {
		return ok, err
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err = k.locker.Acquire(wctx, k.key, k.ttl)
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return false, nil
	}
	return false, err
}

// Release implements Lock.Release.
func (k *KeyedLock) Release(ctx context.Context) error {
	return k.locker.Release(ctx, k.key)
}

// Key returns the locker key.
func (k *KeyedLock) Key() string {
	return k.key
}

func (k *KeyedLock) String() string {
	return fmt.Sprintf("keyed(%s, ttl=%s)", k.key, k.ttl)
}
