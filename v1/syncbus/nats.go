package syncbus

import (
	"context"
	stdErrors "errors"
	"sync"
	"sync/atomic"

	nats "github.com/nats-io/nats.go"

	sentinelerrors "github.com/mirkobrombin/go-sentinel/v1/errors"
)

type natsSubscription struct {
	sub   *nats.Subscription
	chans []chan struct{}
}

// NATSBus implements Bus using a NATS backend. Topics map to subjects.
type NATSBus struct {
	conn      *nats.Conn
	mu        sync.Mutex
	subs      map[string]*natsSubscription
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{
		conn: conn,
		subs: make(map[string]*natsSubscription),
	}
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, topic string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.conn.Publish(natsSubject(topic), []byte("1")); err != nil {
		return mapNATSErr(err)
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context, topic string) (chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	sub := b.subs[topic]
	if sub == nil {
		ns, err := b.conn.Subscribe(natsSubject(topic), func(_ *nats.Msg) {
			b.deliver(topic)
		})
		if err != nil {
			b.mu.Unlock()
			return nil, mapNATSErr(err)
		}
		// Flush so the server has registered interest before we return.
		if err := b.conn.Flush(); err != nil {
			b.mu.Unlock()
			_ = ns.Unsubscribe()
			return nil, mapNATSErr(err)
		}
		sub = &natsSubscription{sub: ns}
		b.subs[topic] = sub
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), topic, ch)
	}()
	return ch, nil
}

func (b *NATSBus) deliver(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := b.subs[topic]
	if sub == nil {
		return
	}
	for _, c := range sub.chans {
		select {
		case c <- struct{}{}:
			b.delivered.Add(1)
		default:
		}
	}
}

// Unsubscribe implements Bus.Unsubscribe. It closes ch.
func (b *NATSBus) Unsubscribe(ctx context.Context, topic string, ch chan struct{}) error {
	b.mu.Lock()
	sub := b.subs[topic]
	if sub == nil {
		b.mu.Unlock()
		return nil
	}
	for i, c := range sub.chans {
		if c == ch {
			sub.chans[i] = sub.chans[len(sub.chans)-1]
			sub.chans = sub.chans[:len(sub.chans)-1]
			close(c)
			break
		}
	}
	if len(sub.chans) == 0 {
		delete(b.subs, topic)
		b.mu.Unlock()
		return mapNATSErr(sub.sub.Unsubscribe())
	}
	b.mu.Unlock()
	return nil
}

// Metrics returns the published and delivered counts.
func (b *NATSBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}

// natsSubject turns a topic into a single-token subject; NATS treats
// '.' as a token separator and '*', '>' as wildcards.
func natsSubject(topic string) string {
	out := []byte("sentinel." + topic)
	for i := len("sentinel."); i < len(out); i++ {
		switch out[i] {
		case '.', '*', '>', ' ':
			out[i] = '_'
		}
	}
	return string(out)
}

func mapNATSErr(err error) error {
	if stdErrors.Is(err, nats.ErrConnectionClosed) {
		return sentinelerrors.ErrConnectionClosed
	}
	return err
}
