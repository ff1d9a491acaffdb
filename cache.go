package sourcier

import (
	"sync"
	"sync/atomic"
	"time"
)

type cacheEntry struct {
	result    Result
	expiresAt time.Time
}

// resultCache holds successful extractions until their TTL lapses. Expiry
// is lazy: an entry dies when a read finds it stale, not on a sweeper.
// size mirrors len(entries) so readers that must not contend on mu (the
// health endpoint) can still report a gauge.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	size    *atomic.Int64
	now     func() time.Time
}

func newResultCache(size *atomic.Int64, now func() time.Time) *resultCache {
	if now == nil {
		now = time.Now
	}
	return &resultCache{
		entries: make(map[string]cacheEntry),
		size:    size,
		now:     now,
	}
}

// get returns the live entry for key, dropping it first if it has expired.
func (c *resultCache) get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		c.size.Store(int64(len(c.entries)))
		return Result{}, false
	}
	return e.result, true
}

func (c *resultCache) put(key string, r Result, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: r, expiresAt: c.now().Add(ttl)}
	c.size.Store(int64(len(c.entries)))
}

// purge drops one entry; it reports whether a live entry was present.
func (c *resultCache) purge(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
		c.size.Store(int64(len(c.entries)))
	}
	return ok && c.now().Before(e.expiresAt)
}

// purgeAll empties the cache and returns how many entries it dropped,
// expired stragglers included.
func (c *resultCache) purgeAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]cacheEntry)
	c.size.Store(0)
	return n
}
