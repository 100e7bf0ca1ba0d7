package lock

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sentinelerrors "github.com/mirkobrombin/go-sentinel/v1/errors"
)

func TestKeyedTryAcquire(t *testing.T) {
	locker := NewInMemory(nil)
	a := Keyed(locker, "P1", 0)
	b := Keyed(locker, "P1", 0)
	ctx := context.Background()

	if ok, err := a.TryAcquire(ctx, 0); err != nil || !ok {
		t.Fatalf("tryacquire: %v ok %v", err, ok)
	}
	ok, err := b.TryAcquire(ctx, 10*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("expected timeout, ok %v err %v", ok, err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = a.Release(ctx)
	}()
	if ok, err := b.TryAcquire(ctx, time.Second); err != nil || !ok {
		t.Fatalf("expected acquire after release, ok %v err %v", ok, err)
	}
	if err := b.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := b.Release(ctx); !errors.Is(err, sentinelerrors.ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
}

func TestKeyedCanceled(t *testing.T) {
	locker := NewInMemory(nil)
	_, _ = Keyed(locker, "P1", 0).TryAcquire(context.Background(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := Keyed(locker, "P1", 0).TryAcquire(ctx, time.Second)
	if ok || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, ok %v err %v", ok, err)
	}
}

func TestKeyedString(t *testing.T) {
	k := Keyed(NewInMemory(nil), "P1", time.Minute)
	if !strings.Contains(k.String(), "P1") || k.Key() != "P1" {
		t.Fatalf("unexpected %q", k.String())
	}
}
