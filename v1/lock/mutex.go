package lock

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	sentinelerrors "github.com/mirkobrombin/go-sentinel/v1/errors"
)

// Mutex is a process-local Lock. Unlike sync.Mutex it supports bounded
// acquisition, and releasing it while free returns an error rather than
// crashing the process.
//
// Mutex is not owner-checked: any goroutine may release it.
type Mutex struct {
	name string
	sem  *semaphore.Weighted
	held atomic.Bool
}

// NewMutex returns a free Mutex. The name only appears in diagnostics.
func NewMutex(name string) *Mutex {
	return &Mutex{name: name, sem: semaphore.NewWeighted(1)}
}

// TryAcquire implements Lock.TryAcquire.
// A non-positive timeout makes a single attempt.
func (m *Mutex) TryAcquire(ctx context.Context, timeout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if m.sem.TryAcquire(1) {
		m.held.Store(true)
		return true, nil
	}
	if timeout <= 0 {
		return false, nil
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := m.sem.Acquire(wctx, 1); err != nil {
		if perr := ctx.Err(); perr != nil {
			return false, perr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return false, nil
		}
		return false, err
	}
	m.held.Store(true)
	return true, nil
}

// Lock blocks until the mutex is acquired or ctx ends.
func (m *Mutex) Lock(ctx context.Context) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	m.held.Store(true)
	return nil
}

// Release implements Lock.Release.
func (m *Mutex) Release(context.Context) error {
	if !m.held.CompareAndSwap(true, false) {
		return sentinelerrors.ErrNotHeld
	}
	m.sem.Release(1)
	return nil
}

// Held reports whether the mutex is currently held.
func (m *Mutex) Held() bool {
	return m.held.Load()
}

func (m *Mutex) String() string {
	state := "free"
	if m.held.Load() {
		state = "held"
	}
	return fmt.Sprintf("mutex(%s, %s)", m.name, state)
}
