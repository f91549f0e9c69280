package cache

import (
	"context"
	"time"
)

// LayeredCache implements a two-level cache (L1: memory, L2: Redis).
type LayeredCache struct {
	memCache   *MemoryCache
	redisCache *RedisCache
	l1TTL      time.Duration
}

// NewLayeredCache puts a bounded memory cache in front of Redis. Values
// promoted from Redis live in memory for at most l1TTL.
func NewLayeredCache(redisCache *RedisCache, l1TTL time.Duration, opts ...MemoryOption) *LayeredCache {
	return &LayeredCache{
		memCache:   NewMemoryCache(opts...),
		redisCache: redisCache,
		l1TTL:      l1TTL,
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	// Write-through: Redis first, then memory
	if err := lc.redisCache.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	_ = lc.memCache.Set(ctx, key, value, lc.memTTL(ttl))
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string) ([]byte, error) {
	if v, err := lc.memCache.Get(ctx, key); err == nil {
		return v, nil
	}

	v, err := lc.redisCache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	_ = lc.memCache.Set(ctx, key, v, lc.l1TTL)
	return v, nil
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.memCache.Delete(ctx, keys...)
	return lc.redisCache.Delete(ctx, keys...)
}

// Close closes both cache layers.
func (lc *LayeredCache) Close() error {
	_ = lc.memCache.Close()
	return lc.redisCache.Close()
}

func (lc *LayeredCache) memTTL(ttl time.Duration) time.Duration {
	if lc.l1TTL > 0 && (ttl <= 0 || lc.l1TTL < ttl) {
		return lc.l1TTL
	}
	return ttl
}
