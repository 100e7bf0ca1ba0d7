package watchbus

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryWatchBus(t *testing.T) {
	bus := NewInMemory()
	ctx := context.Background()
	ch, err := bus.Watch(ctx, "P1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := bus.Publish(ctx, "P1", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-ch:
		if string(msg) != "hello" {
			t.Fatalf("unexpected %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
	if err := bus.Unwatch(ctx, "P1", ch); err != nil {
		t.Fatalf("unwatch: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after unwatch")
	}
}

func TestInMemoryWatchBusAll(t *testing.T) {
	bus := NewInMemory()
	ctx := context.Background()
	chP1, err := bus.Watch(ctx, "P1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	chAll, err := bus.Watch(ctx, All)
	if err != nil {
		t.Fatalf("watch all: %v", err)
	}

	if err := bus.Publish(ctx, "P2", []byte("p2")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(ctx, "P1", []byte("p1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if msg := <-chAll; string(msg) != "p2" {
		t.Fatalf("unexpected %s", msg)
	}
	if msg := <-chAll; string(msg) != "p1" {
		t.Fatalf("unexpected %s", msg)
	}
	if msg := <-chP1; string(msg) != "p1" {
		t.Fatalf("unexpected %s", msg)
	}
	select {
	case msg := <-chP1:
		t.Fatalf("P1 watcher got foreign message %s", msg)
	default:
	}
}

func TestInMemoryWatchBusContextUnwatch(t *testing.T) {
	bus := NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Watch(ctx, "P1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for unwatch")
	}
	if n := bus.Watchers("P1"); n != 0 {
		t.Fatalf("expected no watchers, got %d", n)
	}
}

func TestInMemoryWatchBusSlowWatcherDoesNotBlock(t *testing.T) {
	bus := NewInMemory()
	ctx := context.Background()
	if _, err := bus.Watch(ctx, "P1"); err != nil {
		t.Fatalf("watch: %v", err)
	}
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10*watchBuffer; i++ {
			_ = bus.Publish(ctx, "P1", []byte("x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow watcher")
	}
}
