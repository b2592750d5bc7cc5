package syncbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	redis "github.com/redis/go-redis/v9"
)

// RedisBus implements Bus on Redis Pub/Sub. Each topic with at least one
// local subscriber holds its own PubSub connection.
type RedisBus struct {
	client redis.UniversalClient
	prefix string

	mu        sync.Mutex
	pubsubs   map[string]*redis.PubSub
	fan       *fanout
	published atomic.Uint64
}

// RedisBusOption configures a RedisBus.
type RedisBusOption func(*RedisBus)

// WithChannelPrefix namespaces every Redis channel used by the bus.
func WithChannelPrefix(prefix string) RedisBusOption {
	return func(b *RedisBus) {
		b.prefix = prefix
	}
}

// NewRedisBus returns a new RedisBus using client.
func NewRedisBus(client redis.UniversalClient, opts ...RedisBusOption) *RedisBus {
	b := &RedisBus{
		client:  client,
		prefix:  "lease:",
		pubsubs: make(map[string]*redis.PubSub),
		fan:     newFanout(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, key string) error {
	if err := b.client.Publish(ctx, b.prefix+key, "1").Err(); err != nil {
		return fmt.Errorf("syncbus: publish %s: %w", key, err)
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *RedisBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	if _, ok := b.pubsubs[key]; !ok {
		ps := b.client.Subscribe(context.Background(), b.prefix+key)
		// wait for the confirmation so no publish after Subscribe returns
		// is missed
		if _, err := ps.Receive(ctx); err != nil {
			b.mu.Unlock()
			_ = ps.Close()
			return nil, fmt.Errorf("syncbus: subscribe %s: %w", key, err)
		}
		b.pubsubs[key] = ps
		go b.dispatch(key, ps)
	}
	b.fan.add(key, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), key, ch)
	}()
	return ch, nil
}

func (b *RedisBus) dispatch(key string, ps *redis.PubSub) {
	for range ps.Channel() {
		b.fan.deliver(key)
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *RedisBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	empty, found := b.fan.remove(key, ch)
	if !found || !empty {
		return nil
	}
	ps, ok := b.pubsubs[key]
	if !ok {
		return nil
	}
	delete(b.pubsubs, key)
	return ps.Close()
}

// Close releases every open subscription.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for key, ps := range b.pubsubs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.pubsubs, key)
	}
	return firstErr
}

// Metrics returns the published and delivered counts.
func (b *RedisBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.fan.delivered.Load(),
	}
}
