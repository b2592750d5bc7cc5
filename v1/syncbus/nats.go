package syncbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	nats "github.com/nats-io/nats.go"
)

// NATSBus implements Bus using core NATS subjects.
type NATSBus struct {
	conn   *nats.Conn
	prefix string

	mu        sync.Mutex
	subs      map[string]*nats.Subscription
	fan       *fanout
	published atomic.Uint64
}

// NewNATSBus returns a new NATSBus using the provided connection. Topics
// are mapped to subjects under prefix, "lease." when empty.
func NewNATSBus(conn *nats.Conn, prefix string) *NATSBus {
	if prefix == "" {
		prefix = "lease."
	}
	return &NATSBus{
		conn:   conn,
		prefix: prefix,
		subs:   make(map[string]*nats.Subscription),
		fan:    newFanout(),
	}
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, key string) error {
	if err := b.conn.Publish(b.prefix+key, []byte("1")); err != nil {
		return fmt.Errorf("syncbus: publish %s: %w", key, err)
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	if _, ok := b.subs[key]; !ok {
		ns, err := b.conn.Subscribe(b.prefix+key, func(_ *nats.Msg) {
			b.fan.deliver(key)
		})
		if err != nil {
			b.mu.Unlock()
			return nil, fmt.Errorf("syncbus: subscribe %s: %w", key, err)
		}
		// make sure the server registered the interest before returning
		if err := b.conn.Flush(); err != nil {
			_ = ns.Unsubscribe()
			b.mu.Unlock()
			return nil, fmt.Errorf("syncbus: subscribe %s: %w", key, err)
		}
		b.subs[key] = ns
	}
	b.fan.add(key, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), key, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	empty, found := b.fan.remove(key, ch)
	if !found || !empty {
		return nil
	}
	sub, ok := b.subs[key]
	if !ok {
		return nil
	}
	delete(b.subs, key)
	return sub.Unsubscribe()
}

// Metrics returns the published and delivered counts.
func (b *NATSBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.fan.delivered.Load(),
	}
}
