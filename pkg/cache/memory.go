package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryItem stores a cached value with its expiry.
type MemoryItem struct {
	Value    []byte
	ExpireAt time.Time
	lastUsed time.Time
}

// MemoryCache implements Service in process. Expired entries are dropped on
// access and by an optional background sweep; the least recently used entry
// is evicted when MaxSize is reached.
type MemoryCache struct {
	mutex      sync.Mutex
	data       map[string]*MemoryItem
	maxSize    int
	defaultTTL time.Duration
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:       10000,
		SweepInterval: 5 * time.Minute,
		DefaultTTL:    24 * time.Hour,
		Now:           time.Now,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		data:       make(map[string]*MemoryItem),
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		now:        cfg.Now,
		stop:       make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		go mc.sweepLoop(cfg.SweepInterval)
	}
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if ttl <= 0 {
		ttl = mc.defaultTTL
	}
	now := mc.now()
	if _, exists := mc.data[key]; !exists && mc.maxSize > 0 && len(mc.data) >= mc.maxSize {
		mc.evictLocked(now)
	}

	buf := make([]byte, len(value))
	copy(buf, value)
	mc.data[key] = &MemoryItem{Value: buf, ExpireAt: now.Add(ttl), lastUsed: now}
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	now := mc.now()
	item, exists := mc.data[key]
	if !exists {
		return nil, ErrCacheMiss
	}
	if !now.Before(item.ExpireAt) {
		delete(mc.data, key)
		return nil, ErrCacheMiss
	}
	item.lastUsed = now
	return item.Value, nil
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for _, key := range keys {
		delete(mc.data, key)
	}
	return nil
}

// Len returns the number of stored entries, expired ones included until purged.
func (mc *MemoryCache) Len() int {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	return len(mc.data)
}

// Sweep purges every expired entry and returns how many were removed.
func (mc *MemoryCache) Sweep() int {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	now := mc.now()
	removed := 0
	for key, item := range mc.data {
		if !now.Before(item.ExpireAt) {
			delete(mc.data, key)
			removed++
		}
	}
	return removed
}

// evictLocked drops expired entries first, then the least recently used one.
func (mc *MemoryCache) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for key, item := range mc.data {
		if !now.Before(item.ExpireAt) {
			delete(mc.data, key)
			continue
		}
		if oldestKey == "" || item.lastUsed.Before(oldest) {
			oldestKey, oldest = key, item.lastUsed
		}
	}
	if len(mc.data) >= mc.maxSize && oldestKey != "" {
		delete(mc.data, oldestKey)
	}
}

func (mc *MemoryCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-mc.stop:
			return
		case <-ticker.C:
			mc.Sweep()
		}
	}
}

// Close stops the sweeper.
func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() { close(mc.stop) })
	return nil
}
