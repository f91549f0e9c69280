package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
)

// Service is a byte-oriented key-value store with per-key expiry.
type Service interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns ErrCacheMiss for absent or expired keys.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// SetJSON marshals value and stores it under key.
func SetJSON[T any](ctx context.Context, c Service, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}

// GetJSON loads key and unmarshals it into a T.
func GetJSON[T any](ctx context.Context, c Service, key string) (T, error) {
	var out T
	data, err := c.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return out, nil
}
