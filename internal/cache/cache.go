// Package cache provides response caching for the relay, keyed by method and
// params. The memory implementation is an LRU with TTL on top of
// hashicorp/golang-lru.
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is the interface the relay caches responses through.
type Cache interface {
	// Get retrieves a cached response by key
	Get(key string) ([]byte, bool)

	// Set stores a response in the cache with the given key
	Set(key string, value []byte)

	// Close releases any resources held by the cache
	Close()
}

// entry is a cached value with its expiration time.
type entry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache is an in-memory LRU cache with TTL support.
type MemoryCache struct {
	cache *lru.Cache[string, *entry]
	ttl   time.Duration
	stop  chan struct{}
}

// NewMemoryCache creates a memory cache holding up to size entries, each
// valid for ttl.
func NewMemoryCache(size int, ttl time.Duration) (*MemoryCache, error) {
	c, err := lru.New[string, *entry](size)
	if err != nil {
		return nil, err
	}

	mc := &MemoryCache{
		cache: c,
		ttl:   ttl,
		stop:  make(chan struct{}),
	}
	go mc.cleanupLoop()
	return mc, nil
}

// Get retrieves a cached value, treating expired entries as misses.
func (mc *MemoryCache) Get(key string) ([]byte, bool) {
	e, ok := mc.cache.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		mc.cache.Remove(key)
		return nil, false
	}
	return e.data, true
}

// Set stores a value with the cache's TTL.
func (mc *MemoryCache) Set(key string, value []byte) {
	mc.cache.Add(key, &entry{
		data:      value,
		expiresAt: time.Now().Add(mc.ttl),
	})
}

// Close stops the background cleanup goroutine.
func (mc *MemoryCache) Close() {
	close(mc.stop)
}

// cleanupLoop periodically evicts expired entries so they don't crowd out
// live ones.
func (mc *MemoryCache) cleanupLoop() {
	interval := mc.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.removeExpired()
		case <-mc.stop:
			return
		}
	}
}

func (mc *MemoryCache) removeExpired() {
	now := time.Now()
	for _, key := range mc.cache.Keys() {
		if e, ok := mc.cache.Peek(key); ok && now.After(e.expiresAt) {
			mc.cache.Remove(key)
		}
	}
}

// NoopCache is used when caching is disabled.
type NoopCache struct{}

// NewNoopCache creates a cache that stores nothing.
func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

// Get always misses
func (nc *NoopCache) Get(key string) ([]byte, bool) {
	return nil, false
}

// Set does nothing
func (nc *NoopCache) Set(key string, value []byte) {}

// Close does nothing
func (nc *NoopCache) Close() {}
