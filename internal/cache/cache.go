// Package cache holds a small in-memory TTL map used to memoize extraction
// results between requests.
package cache

import (
	"sync"
	"time"
)

type entry[T any] struct {
	val T
	exp time.Time
}

type Cache[T any] struct {
	mu  sync.Mutex
	ttl time.Duration
	max int
	m   map[string]entry[T]
	now func() time.Time
}

// New returns a cache whose entries live for ttl. When max > 0 the cache holds
// at most max entries; expired entries are swept first, then the entry closest
// to expiry is evicted.
func New[T any](ttl time.Duration, max int) *Cache[T] {
	return &Cache[T]{ttl: ttl, max: max, m: make(map[string]entry[T]), now: time.Now}
}

func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	ent, ok := c.m[key]
	if !ok {
		return zero, false
	}
	if c.now().After(ent.exp) {
		delete(c.m, key)
		return zero, false
	}
	return ent.val, true
}

func (c *Cache[T]) Set(key string, val T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, exists := c.m[key]; !exists && c.max > 0 && len(c.m) >= c.max {
		c.evictLocked(now)
	}
	c.m[key] = entry[T]{val: val, exp: now.Add(c.ttl)}
}

func (c *Cache[T]) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

func (c *Cache[T]) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.m {
		if now.After(e.exp) {
			delete(c.m, k)
			continue
		}
		if oldestKey == "" || e.exp.Before(oldest) {
			oldestKey, oldest = k, e.exp
		}
	}
	if len(c.m) >= c.max && oldestKey != "" {
		delete(c.m, oldestKey)
	}
}
