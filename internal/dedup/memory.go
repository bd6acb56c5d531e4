package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/movie-ingest/internal/pipeline"
)

// defaultMaxEntries bounds the in-process cache. Past it the cache starts over; the url
// table still rejects duplicate addresses.
const defaultMaxEntries = 100_000

// MemoryCache implements pipeline.SeenCache in process.
type MemoryCache struct {
	mu         sync.Mutex
	clock      pipeline.Clock
	ttl        time.Duration
	maxEntries int
	seen       map[string]time.Time
	lastSweep  time.Time
}

// NewMemoryCache returns a cache whose entries expire after ttl. A zero ttl never expires.
func NewMemoryCache(clock pipeline.Clock, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		clock:      clock,
		ttl:        ttl,
		maxEntries: defaultMaxEntries,
		seen:       make(map[string]time.Time),
		lastSweep:  clock.Now(),
	}
}

// MarkSeen reports true the first time address is marked within the TTL.
func (c *MemoryCache) MarkSeen(_ context.Context, address string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	c.sweep(now)
	if at, ok := c.seen[address]; ok && !c.expired(at, now) {
		return false, nil
	}
	if len(c.seen) >= c.maxEntries {
		clear(c.seen)
	}
	c.seen[address] = now
	return true, nil
}

// Forget removes address.
func (c *MemoryCache) Forget(_ context.Context, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, address)
	return nil
}

// Len reports how many entries are held, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *MemoryCache) expired(at, now time.Time) bool {
	return c.ttl > 0 && now.Sub(at) >= c.ttl
}

// sweep drops expired entries at most once per ttl.
func (c *MemoryCache) sweep(now time.Time) {
	if c.ttl <= 0 || now.Sub(c.lastSweep) < c.ttl {
		return
	}
	for address, at := range c.seen {
		if c.expired(at, now) {
			delete(c.seen, address)
		}
	}
	c.lastSweep = now
}
