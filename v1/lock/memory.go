package lock

import (
	"context"
	"sync"
	"time"

	sentinelerrors "github.com/mirkobrombin/go-sentinel/v1/errors"
	"github.com/mirkobrombin/go-sentinel/v1/syncbus"
)

// DefaultSettle is how long a locker waits, after it starts watching a key,
// for the current holder on another node to announce itself.
const DefaultSettle = 25 * time.Millisecond

type lockState struct {
	timer  *time.Timer
	notify chan struct{}
	// owned is false for a key another node holds.
	owned bool
}

type keyWatch struct {
	ready chan struct{}
	heard chan struct{}
	err   error
}

// InMemory implements Locker using local memory. Lock and unlock events are
// propagated through a syncbus Bus so lockers on other nodes see the key as
// taken.
type InMemory struct {
	mu      sync.Mutex
	bus     syncbus.Bus
	settle  time.Duration
	locks   map[string]*lockState
	subs    map[string]*keyWatch
	pending map[string]int
}

// InMemoryOption configures an InMemory locker.
type InMemoryOption func(*InMemory)

// WithSettle sets how long Watch waits for a remote holder to answer.
// Zero skips the wait.
func WithSettle(d time.Duration) InMemoryOption {
	return func(l *InMemory) {
		if d >= 0 {
			l.settle = d
		}
	}
}

// NewInMemory returns a new in-memory locker that uses bus to propagate events.
// A nil bus keeps the locker private to the process.
func NewInMemory(bus syncbus.Bus, opts ...InMemoryOption) *InMemory {
	l := &InMemory{
		bus:     bus,
		settle:  DefaultSettle,
		locks:   make(map[string]*lockState),
		subs:    make(map[string]*keyWatch),
		pending: make(map[string]int),
	}
	if bus == nil {
		l.bus = syncbus.NewInMemoryBus()
		l.settle = 0
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Watch subscribes to the events of key and asks the other nodes whether
// one of them holds it. It returns once the holder answered or the settle
// period elapsed. Later calls for the same key return immediately.
func (l *InMemory) Watch(key string) error {
	l.mu.Lock()
	if w, ok := l.subs[key]; ok {
		l.mu.Unlock()
		<-w.ready
		return w.err
	}
	w := &keyWatch{ready: make(chan struct{}), heard: make(chan struct{}, 1)}
	l.subs[key] = w
	l.mu.Unlock()

	topics := []string{syncbus.LockTopic(key), syncbus.UnlockTopic(key), syncbus.QueryTopic(key)}
	chans := make([]chan struct{}, 0, len(topics))
	for _, topic := range topics {
		ch, err := l.bus.Subscribe(context.Background(), topic)
		if err != nil {
			for i, c := range chans {
				_ = l.bus.Unsubscribe(context.Background(), topics[i], c)
			}
			l.mu.Lock()
			delete(l.subs, key)
			l.mu.Unlock()
			w.err = err
			close(w.ready)
			return err
		}
		chans = append(chans, ch)
	}

	go l.onLock(key, chans[0], w)
	go l.onUnlock(key, chans[1])
	go l.onQuery(key, chans[2])

	l.publish(context.Background(), topics[2])
	if l.settle > 0 {
		t := time.NewTimer(l.settle)
		select {
		case <-w.heard:
		case <-t.C:
		}
		t.Stop()
	}
	close(w.ready)
	return nil
}

func (l *InMemory) onLock(key string, ch chan struct{}, w *keyWatch) {
	topic := syncbus.LockTopic(key)
	for range ch {
		l.mu.Lock()
		// Our own publish comes back to us; skip it.
		if l.skipOwn(topic) {
			l.mu.Unlock()
			continue
		}
		if _, ok := l.locks[key]; !ok {
			l.locks[key] = &lockState{notify: make(chan struct{})}
		}
		l.mu.Unlock()
		select {
		case w.heard <- struct{}{}:
		default:
		}
	}
}

func (l *InMemory) onUnlock(key string, ch chan struct{}) {
	topic := syncbus.UnlockTopic(key)
	for range ch {
		l.mu.Lock()
		if !l.skipOwn(topic) {
			l.dropLocked(key)
		}
		l.mu.Unlock()
	}
}

func (l *InMemory) onQuery(key string, ch chan struct{}) {
	topic := syncbus.QueryTopic(key)
	for range ch {
		l.mu.Lock()
		st, ok := l.locks[key]
		answer := !l.skipOwn(topic) && ok && st.owned
		l.mu.Unlock()
		if answer {
			l.publish(context.Background(), syncbus.LockTopic(key))
		}
	}
}

// skipOwn consumes one pending echo of topic. l.mu must be held.
func (l *InMemory) skipOwn(topic string) bool {
	if l.pending[topic] > 0 {
		l.pending[topic]--
		return true
	}
	return false
}

// publish sends topic and records the echo this locker will receive.
func (l *InMemory) publish(ctx context.Context, topic string) {
	l.mu.Lock()
	l.pending[topic]++
	l.mu.Unlock()
	if err := l.bus.Publish(ctx, topic); err != nil {
		l.mu.Lock()
		l.skipOwn(topic)
		l.mu.Unlock()
	}
}

// dropLocked frees key and wakes its waiters. l.mu must be held.
func (l *InMemory) dropLocked(key string) bool {
	st, ok := l.locks[key]
	if !ok {
		return false
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	close(st.notify)
	delete(l.locks, key)
	return true
}

// TryLock attempts to obtain the lock without waiting. It returns true on success.
func (l *InMemory) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := l.Watch(key); err != nil {
		return false, err
	}
	l.mu.Lock()
	if _, ok := l.locks[key]; ok {
		l.mu.Unlock()
		return false, nil
	}
	st := &lockState{notify: make(chan struct{}), owned: true}
	if ttl > 0 {
		st.timer = time.AfterFunc(ttl, func() {
			_ = l.Release(context.Background(), key)
		})
	}
	l.locks[key] = st
	l.mu.Unlock()
	l.publish(ctx, syncbus.LockTopic(key))
	return true, nil
}

// Acquire blocks until the lock is obtained or the context is cancelled.
func (l *InMemory) Acquire(ctx context.Context, key string, ttl time.Duration) error {
	for {
		ok, err := l.TryLock(ctx, key, ttl)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		l.mu.Lock()
		st := l.locks[key]
		l.mu.Unlock()
		if st == nil {
			// Freed between TryLock and here.
			continue
		}
		select {
		case <-st.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release frees the lock for the given key. It returns ErrNotHeld if the
// key is not locked.
func (l *InMemory) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	ok := l.dropLocked(key)
	l.mu.Unlock()
	if !ok {
		return sentinelerrors.ErrNotHeld
	}
	l.publish(ctx, syncbus.UnlockTopic(key))
	return nil
}
