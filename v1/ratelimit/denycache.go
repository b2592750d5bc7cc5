package ratelimit

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

const defaultDenyCacheEntries = 10000

// denyCache remembers until when an identity is known to be over its
// limit. Entries are dropped by ristretto once their window has ended, and
// admission is best-effort: an entry the cache refuses only costs a store
// round trip.
type denyCache struct {
	c *ristretto.Cache
}

func newDenyCache(maxEntries int64) *denyCache {
	if maxEntries <= 0 {
		maxEntries = defaultDenyCacheEntries
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		// only reachable with a zero NumCounters or MaxCost
		panic(err)
	}
	return &denyCache{c: c}
}

// remember stores a denial lasting retryAfter.
func (d *denyCache) remember(key string, dec Decision) {
	if dec.RetryAfter <= 0 {
		return
	}
	dec.Attempts = 0
	d.c.SetWithTTL(key, deniedUntil{dec: dec, until: time.Now().Add(dec.RetryAfter)}, 1, dec.RetryAfter)
}

// lookup returns the cached denial for key with RetryAfter counted from
// now.
func (d *denyCache) lookup(key string) (Decision, bool) {
	v, ok := d.c.Get(key)
	if !ok {
		return Decision{}, false
	}
	e, ok := v.(deniedUntil)
	if !ok {
		return Decision{}, false
	}
	left := time.Until(e.until)
	if left <= 0 {
		return Decision{}, false
	}
	dec := e.dec
	dec.RetryAfter = left
	return dec, true
}

func (d *denyCache) wait() { d.c.Wait() }

func (d *denyCache) close() { d.c.Close() }

type deniedUntil struct {
	dec   Decision
	until time.Time
}
