package conversation

import (
	"sync"
	"time"
)

// contextCache holds session context views for a short TTL. Every mutation
// of a session invalidates its entry, so the TTL only bounds staleness for
// readers racing a writer on another instance.
type contextCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	view    *Context
	expires time.Time
}

func newContextCache(ttl time.Duration) *contextCache {
	return &contextCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *contextCache) get(sessionID string) (*Context, bool) {
	if c.ttl <= 0 {
		return nil, false
	}

	c.mu.RLock()
	entry, ok := c.entries[sessionID]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.view, true
}

func (c *contextCache) put(sessionID string, view *Context) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	c.entries[sessionID] = cacheEntry{view: view, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *contextCache) invalidate(sessionID string) {
	c.mu.Lock()
	delete(c.entries, sessionID)
	c.mu.Unlock()
}
