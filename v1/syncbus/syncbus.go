package syncbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus is a best-effort notification channel between processes sharing a
// store. The lock package publishes on UnlockTopic after every release so
// that waiting acquirers can retry without sleeping out their full retry
// interval. Delivery is not guaranteed: a missed event only costs latency.
type Bus interface {
	Publish(ctx context.Context, key string) error
	// Subscribe returns a channel receiving one value per delivered event.
	// The channel is closed on Unsubscribe or when ctx is done.
	Subscribe(ctx context.Context, key string) (chan struct{}, error)
	Unsubscribe(ctx context.Context, key string, ch chan struct{}) error
}

// UnlockTopic returns the topic released locks are announced on.
func UnlockTopic(lockKey string) string {
	return "unlock:" + lockKey
}

// Metrics reports how many events a bus published and handed to
// subscribers.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// fanout tracks the local subscriber channels of a topic.
type fanout struct {
	mu        sync.Mutex
	subs      map[string][]chan struct{}
	delivered atomic.Uint64
}

func newFanout() *fanout {
	return &fanout{subs: make(map[string][]chan struct{})}
}

// add registers ch and reports whether it is the first subscriber of key.
func (f *fanout) add(key string, ch chan struct{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	first := len(f.subs[key]) == 0
	f.subs[key] = append(f.subs[key], ch)
	return first
}

// remove closes ch and reports whether key has no subscribers left. The
// second result is false when ch was not registered.
func (f *fanout) remove(key string, ch chan struct{}) (empty, found bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := f.subs[key]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			close(c)
			found = true
			break
		}
	}
	if len(subs) == 0 {
		delete(f.subs, key)
		return true, found
	}
	f.subs[key] = subs
	return false, found
}

// deliver sends without blocking while holding the lock so a concurrent
// remove cannot close a channel mid-send.
func (f *fanout) deliver(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[key] {
		select {
		case ch <- struct{}{}:
			f.delivered.Add(1)
		default:
		}
	}
}

// InMemoryBus is a local implementation of Bus mainly for testing and for
// several lockers living in one process.
type InMemoryBus struct {
	fan       *fanout
	published atomic.Uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{fan: newFanout()}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, key string) error {
	b.published.Add(1)
	b.fan.deliver(key)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemoryBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.fan.add(key, ch)
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), key, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	b.fan.remove(key, ch)
	return nil
}

// Metrics returns the published and delivered counts.
func (b *InMemoryBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.fan.delivered.Load(),
	}
}
