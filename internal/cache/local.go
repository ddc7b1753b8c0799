package cache

import (
	"context"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// LocalCache implements Backend in process memory.
// This is suitable for single-instance deployments.
type LocalCache struct {
	cache *gocache.Cache
	gen   atomic.Uint64
}

// NewLocalCache creates an in-memory cache. Expired entries are purged every
// cleanupInterval.
func NewLocalCache(ttl, cleanupInterval time.Duration) *LocalCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 2 * ttl
	}
	return &LocalCache{
		cache: gocache.New(ttl, cleanupInterval),
	}
}

func (c *LocalCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if val, found := c.cache.Get(key); found {
		return val.([]byte), true, nil
	}
	return nil, false, nil
}

func (c *LocalCache) Set(_ context.Context, key string, value []byte) error {
	c.cache.SetDefault(key, value)
	return nil
}

func (c *LocalCache) Generation(context.Context) (uint64, error) {
	return c.gen.Load(), nil
}

// Invalidate advances the generation and drops every entry.
func (c *LocalCache) Invalidate(context.Context) error {
	c.gen.Add(1)
	c.cache.Flush()
	return nil
}

// Len reports the number of live entries.
func (c *LocalCache) Len() int {
	return c.cache.ItemCount()
}

// Close is a no-op for local cache.
func (c *LocalCache) Close() error {
	return nil
}
