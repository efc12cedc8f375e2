package fallback

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ResultCache stores primary results keyed by service type and input hash.
// The cache is a pure optimization: a miss or a backend error is never
// surfaced as a failure to the caller.
type ResultCache interface {
	// Get returns the cached result for the key, with a found flag
	Get(ctx context.Context, serviceType, inputHash string) (json.RawMessage, bool, error)

	// Set stores a result under the key for ttl
	Set(ctx context.Context, serviceType, inputHash string, result json.RawMessage, ttl time.Duration) error
}

const cacheShardCount = 16

type cacheEntry struct {
	result    json.RawMessage
	expiresAt time.Time
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// MemoryCache is a sharded in-process ResultCache. Sharding by key keeps
// concurrent requests for different services off a single global lock.
type MemoryCache struct {
	shards [cacheShardCount]*cacheShard
}

// NewMemoryCache creates an empty in-process cache
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{}
	for i := range c.shards {
		c.shards[i] = &cacheShard{entries: make(map[string]cacheEntry)}
	}
	return c
}

func (c *MemoryCache) shardFor(key string) *cacheShard {
	return c.shards[xxhash.Sum64String(key)%cacheShardCount]
}

func cacheKey(serviceType, inputHash string) string {
	return serviceType + ":" + inputHash
}

func (c *MemoryCache) Get(_ context.Context, serviceType, inputHash string) (json.RawMessage, bool, error) {
	key := cacheKey(serviceType, inputHash)
	shard := c.shardFor(key)

	shard.mu.RLock()
	entry, ok := shard.entries[key]
	shard.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		shard.mu.Lock()
		// Re-check under the write lock; another writer may have refreshed it
		if current, still := shard.entries[key]; still && time.Now().After(current.expiresAt) {
			delete(shard.entries, key)
		}
		shard.mu.Unlock()
		return nil, false, nil
	}
	return entry.result, true, nil
}

func (c *MemoryCache) Set(_ context.Context, serviceType, inputHash string, result json.RawMessage, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	key := cacheKey(serviceType, inputHash)
	shard := c.shardFor(key)

	shard.mu.Lock()
	shard.entries[key] = cacheEntry{
		result:    result,
		expiresAt: time.Now().Add(ttl),
	}
	shard.mu.Unlock()
	return nil
}
