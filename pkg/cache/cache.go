package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type entry struct {
	val      any
	deadline time.Time
}

func (e entry) live(now time.Time) bool {
	return now.Before(e.deadline)
}

// Cache is a small in-memory TTL cache. Expired entries stop being served
// immediately; the backing map is swept by a background ticker so memory is
// reclaimed without a heap of timers.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration
	done       chan struct{}
}

func NewCache(defaultTTL time.Duration) *Cache {
	c := &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		done:       make(chan struct{}),
	}
	go c.sweep(defaultTTL / 2)
	return c
}

func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !e.live(time.Now()) {
		return nil, false
	}
	return e.val, true
}

func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	e := entry{val: value, deadline: time.Now().Add(ttl)}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Invalidate drops every entry whose key starts with prefix. An empty prefix
// drops only entries that have already expired.
func (c *Cache) Invalidate(prefix string) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if prefix == "" {
			if !e.live(now) {
				delete(c.entries, key)
			}
			continue
		}
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// GetOrSet returns the cached value for key, or runs fetch and caches its
// result. Fetch errors are returned as-is and never cached.
func (c *Cache) GetOrSet(ctx context.Context, key string, fetch func(context.Context) (any, error), ttl time.Duration) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.SetWithTTL(key, v, ttl)
	return v, nil
}

func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) Stop() {
	close(c.done)
}

func (c *Cache) sweep(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Invalidate("")
		case <-c.done:
			return
		}
	}
}
