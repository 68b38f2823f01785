package eduapi

import (
	"context"
	"sync"
	"time"
)

// CacheEntry is a cached, already-decrypted response envelope.
type CacheEntry struct {
	Response  *Response
	ExpiresAt time.Time
}

// Cache stores successful GET responses after decryption, sparing the
// backend repeated list queries. Entries are shared; callers must not mutate
// a cached Response's Data.
type Cache interface {
	Get(key string) (*CacheEntry, bool)
	Set(key string, entry *CacheEntry, ttl time.Duration)
	Delete(key string)
	Clear()
}

// CacheCondition decides whether a request's response may be cached.
type CacheCondition func(req *Request) bool

// DefaultCacheCondition caches GET requests only.
func DefaultCacheCondition(req *Request) bool {
	return req.Method == "GET"
}

// CacheKeyFunc builds the cache key for a request.
type CacheKeyFunc func(req *Request) string

// DefaultCacheKeyFunc keys on method, path and canonical query string.
func DefaultCacheKeyFunc(req *Request) string {
	return req.Method + ":" + req.Path + "?" + Canonicalize(req.Query)
}

// InMemoryCache is a TTL map cache. Safe for concurrent use.
type InMemoryCache struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		store: make(map[string]*CacheEntry),
	}
}

// Get retrieves a live entry, dropping it if expired.
func (c *InMemoryCache) Get(key string) (*CacheEntry, bool) {
	c.mu.RLock()
	entry, exists := c.store[key]
	c.mu.RUnlock()
	if !exists {
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		if cur, ok := c.store[key]; ok && cur == entry {
			delete(c.store, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return entry, true
}

// Set stores an entry with the given TTL.
func (c *InMemoryCache) Set(key string, entry *CacheEntry, ttl time.Duration) {
	entry.ExpiresAt = time.Now().Add(ttl)
	c.mu.Lock()
	c.store[key] = entry
	c.mu.Unlock()
}

// Delete removes an entry.
func (c *InMemoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.store, key)
	c.mu.Unlock()
}

// Clear removes all entries.
func (c *InMemoryCache) Clear() {
	c.mu.Lock()
	c.store = make(map[string]*CacheEntry)
	c.mu.Unlock()
}

// Size returns the number of live and expired entries currently held.
func (c *InMemoryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// WithContextCacheEnabled forces caching for the request regardless of the
// client's cache condition.
func WithContextCacheEnabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, CacheControlKey, &CacheControl{Enabled: true})
}

// WithContextCacheDisabled disables caching for the request.
func WithContextCacheDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, CacheControlKey, &CacheControl{Enabled: false})
}

// WithContextCacheTTL enables caching for the request with a custom TTL.
func WithContextCacheTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, CacheControlKey, &CacheControl{Enabled: true, TTL: ttl})
}
