package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache stores lookup outcomes as JSON strings with a redis TTL.
type RedisCache struct {
	client redis.Cmdable
}

// NewRedisCache wraps a redis client.
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

func (cache *RedisCache) Get(ctx context.Context, key string) (CacheEntry, bool, error) {
	raw, err := cache.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var entry CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return CacheEntry{}, false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return entry, true, nil
}

func (cache *RedisCache) Set(ctx context.Context, key string, entry CacheEntry, ttl time.Duration) error {
	payload, err := EncodeCacheEntry(entry)
	if err != nil {
		return err
	}
	if err := cache.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// EncodeCacheEntry returns the JSON form stored in redis.
func EncodeCacheEntry(entry CacheEntry) (string, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encode cache entry: %w", err)
	}
	return string(payload), nil
}

type memoryItem struct {
	entry     CacheEntry
	expiresAt time.Time
}

// memorySweepInterval is the number of writes between sweeps of expired keys.
const memorySweepInterval = 256

// MemoryCache is a process-local Cache used when no redis is configured.
// Expired keys are dropped on read and swept every memorySweepInterval writes.
type MemoryCache struct {
	mu     sync.Mutex
	items  map[string]memoryItem
	now    func() time.Time
	writes int
}

// NewMemoryCache returns an empty MemoryCache. A nil clock uses time.Now.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{items: make(map[string]memoryItem), now: now}
}

func (cache *MemoryCache) Get(_ context.Context, key string) (CacheEntry, bool, error) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	item, ok := cache.items[key]
	if !ok {
		return CacheEntry{}, false, nil
	}
	if !item.expiresAt.After(cache.now()) {
		delete(cache.items, key)
		return CacheEntry{}, false, nil
	}
	return item.entry, true, nil
}

func (cache *MemoryCache) Set(_ context.Context, key string, entry CacheEntry, ttl time.Duration) error {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	now := cache.now()
	cache.writes++
	if cache.writes >= memorySweepInterval {
		cache.writes = 0
		for existing, item := range cache.items {
			if !now.Before(item.expiresAt) {
				delete(cache.items, existing)
			}
		}
	}
	cache.items[key] = memoryItem{entry: entry, expiresAt: now.Add(ttl)}
	return nil
}

// Len reports the number of keys held, expired or not.
func (cache *MemoryCache) Len() int {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	return len(cache.items)
}
