package directory

import (
	"sync"
	"time"
)

// ttlCache is a plain expiring key/value map. It never evicts on its own;
// stale entries are dropped lazily on read and overwritten on write. The
// working set here is small (one entry per distinct request).
type ttlCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	val     any
	expires time.Time
}

func newTTLCache() *ttlCache {
	return &ttlCache{entries: map[string]cacheEntry{}}
}

func (c *ttlCache) get(key string, now time.Time) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if now.After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.val, true
}

func (c *ttlCache) put(key string, val any, expires time.Time) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{val: val, expires: expires}
	c.mu.Unlock()
}
