package cache

import (
	"sync"
	"time"

	"PriceCast/internal/domain/service"
)

type entry struct {
	m   service.Model
	exp time.Time
	hit time.Time
}

// ModelCache keeps decoded models in memory so repeated predictions skip the
// artifact load. Entries expire after ttl; the least recently used entry is
// evicted once size is reached.
type ModelCache struct {
	mu   sync.Mutex
	m    map[string]entry
	ttl  time.Duration
	size int
	now  func() time.Time
}

func NewModelCache(size int, ttl time.Duration) *ModelCache {
	if size < 1 {
		size = 1
	}
	return &ModelCache{m: make(map[string]entry), ttl: ttl, size: size, now: time.Now}
}

func (c *ModelCache) Get(modelID string) (service.Model, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[modelID]
	if !ok {
		return nil, false
	}
	now := c.now()
	if !e.exp.IsZero() && now.After(e.exp) {
		delete(c.m, modelID)
		return nil, false
	}
	e.hit = now
	c.m[modelID] = e
	return e.m, true
}

func (c *ModelCache) Put(modelID string, m service.Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var exp time.Time
	if c.ttl > 0 {
		exp = now.Add(c.ttl)
	}
	if _, ok := c.m[modelID]; !ok && len(c.m) >= c.size {
		c.evictLocked()
	}
	c.m[modelID] = entry{m: m, exp: exp, hit: now}
}

// Invalidate drops modelID, for example after the model was deleted.
func (c *ModelCache) Invalidate(modelID string) {
	c.mu.Lock()
	delete(c.m, modelID)
	c.mu.Unlock()
}

func (c *ModelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

func (c *ModelCache) evictLocked() {
	var (
		oldest string
		at     time.Time
	)
	for id, e := range c.m {
		if oldest == "" || e.hit.Before(at) {
			oldest, at = id, e.hit
		}
	}
	delete(c.m, oldest)
}
