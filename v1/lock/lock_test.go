package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	sentinelerrors "github.com/mirkobrombin/go-sentinel/v1/errors"
	"github.com/mirkobrombin/go-sentinel/v1/syncbus"
)

func TestInMemoryTryLockAcquireRelease(t *testing.T) {
	l := NewInMemory(nil)
	ctx := context.Background()
	ok, err := l.TryLock(ctx, "k", time.Second)
	if err != nil || !ok {
		t.Fatalf("trylock: %v ok %v", err, ok)
	}
	if ok, err := l.TryLock(ctx, "k", time.Second); err != nil || ok {
		t.Fatalf("expected lock held, got ok %v err %v", ok, err)
	}
	if err := l.Release(ctx, "k"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := l.TryLock(ctx, "k", time.Second); err != nil || !ok {
		t.Fatalf("expected lock re-acquired, ok %v err %v", ok, err)
	}
}

func TestInMemoryReleaseUnheld(t *testing.T) {
	l := NewInMemory(nil)
	if err := l.Release(context.Background(), "k"); !errors.Is(err, sentinelerrors.ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
}

func TestInMemoryAcquireTimeout(t *testing.T) {
	l := NewInMemory(nil)
	ctx := context.Background()
	_, _ = l.TryLock(ctx, "k", 0)

	cctx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := l.Acquire(cctx, "k", 0)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("acquire did not respect context timeout")
	}
}

func TestInMemoryAcquireWakesOnRelease(t *testing.T) {
	l := NewInMemory(nil)
	ctx := context.Background()
	if ok, _ := l.TryLock(ctx, "k", 0); !ok {
		t.Fatal("initial trylock failed")
	}
	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx, "k", 0) }()

	time.Sleep(10 * time.Millisecond)
	if err := l.Release(ctx, "k"); err != nil {
		t.Fatalf("release: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire was not woken by release")
	}
}

func TestInMemoryLockTTLExpires(t *testing.T) {
	l := NewInMemory(nil)
	ctx := context.Background()
	if ok, err := l.TryLock(ctx, "k", 10*time.Millisecond); err != nil || !ok {
		t.Fatalf("trylock: %v ok %v", err, ok)
	}
	time.Sleep(20 * time.Millisecond)
	if ok, err := l.TryLock(ctx, "k", 0); err != nil || !ok {
		t.Fatalf("lock should expire, ok %v err %v", ok, err)
	}
}

func TestInMemoryPropagatesAcrossNodes(t *testing.T) {
	bus := syncbus.NewInMemoryBus()
	n1 := NewInMemory(bus)
	n2 := NewInMemory(bus)
	ctx := context.Background()

	if ok, _ := n1.TryLock(ctx, "k", 0); !ok {
		t.Fatal("n1 trylock failed")
	}
	if ok, _ := n2.TryLock(ctx, "k", 0); ok {
		t.Fatal("n2 acquired a key held by n1")
	}

	if err := n1.Release(ctx, "k"); err != nil {
		t.Fatalf("release: %v", err)
	}
	waitFor(t, func() bool {
		n2.mu.Lock()
		defer n2.mu.Unlock()
		_, ok := n2.locks["k"]
		return !ok
	})
	if ok, _ := n2.TryLock(ctx, "k", 0); !ok {
		t.Fatal("n2 could not take the key after n1 released it")
	}
}

func TestInMemoryLateJoinerSeesHolder(t *testing.T) {
	bus := syncbus.NewInMemoryBus()
	n1 := NewInMemory(bus)
	ctx := context.Background()

	if ok, err := Keyed(n1, "P1", 0).TryAcquire(ctx, 0); err != nil || !ok {
		t.Fatalf("n1 tryacquire: %v ok %v", err, ok)
	}
	time.Sleep(20 * time.Millisecond)

	// n2 joins after the key was taken and never saw the lock event.
	n2 := NewInMemory(bus)
	waiter := Keyed(n2, "P1", 0)
	if ok, err := waiter.TryAcquire(ctx, 100*time.Millisecond); err != nil || ok {
		t.Fatalf("n2 acquired a key held by n1, ok %v err %v", ok, err)
	}

	done := make(chan bool, 1)
	go func() {
		ok, _ := waiter.TryAcquire(ctx, time.Second)
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	if err := n1.Release(ctx, "P1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("n2 was not woken by n1's release")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("n2 still waiting after release")
	}
}

func TestInMemoryWatchOnlyOnce(t *testing.T) {
	bus := syncbus.NewInMemoryBus()
	l := NewInMemory(bus, WithSettle(0))
	_ = Keyed(l, "k", 0)
	if err := l.Watch("k"); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if m := bus.Metrics(); m.Published != 1 {
		t.Fatalf("expected a single query, got %d publishes", m.Published)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
