package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
)

// MemoryCursorStore keeps cursors in process. They are lost on restart and
// rebuilt from the store's newest records.
type MemoryCursorStore struct {
	mu      sync.RWMutex
	cursors map[models.FeedType]map[string]time.Time
}

var _ repository.CursorStore = (*MemoryCursorStore)(nil)

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[models.FeedType]map[string]time.Time)}
}

func (s *MemoryCursorStore) Get(_ context.Context, feed models.FeedType, symbol string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.cursors[feed][symbol]
	return at, ok, nil
}

func (s *MemoryCursorStore) Advance(_ context.Context, feed models.FeedType, symbol string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySymbol, ok := s.cursors[feed]
	if !ok {
		bySymbol = make(map[string]time.Time)
		s.cursors[feed] = bySymbol
	}
	if cur, ok := bySymbol[symbol]; ok && !at.After(cur) {
		return nil
	}
	bySymbol[symbol] = at.UTC()
	return nil
}

func (s *MemoryCursorStore) List(_ context.Context, feed models.FeedType) ([]models.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Cursor, 0, len(s.cursors[feed]))
	for symbol, at := range s.cursors[feed] {
		out = append(out, models.Cursor{Feed: feed, Symbol: symbol, At: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// RedisCursorStore keeps one hash per feed mapping symbol to the cursor in
// unix nanoseconds, so several collector processes share progress.
type RedisCursorStore struct {
	client *redis.Client
	prefix string
}

var _ repository.CursorStore = (*RedisCursorStore)(nil)

const advanceRetries = 5

func NewRedisCursorStore(client *redis.Client, prefix string) *RedisCursorStore {
	if prefix == "" {
		prefix = "marketsync:cursor"
	}
	return &RedisCursorStore{client: client, prefix: prefix}
}

func (s *RedisCursorStore) key(feed models.FeedType) string {
	return s.prefix + ":" + string(feed)
}

func (s *RedisCursorStore) Get(ctx context.Context, feed models.FeedType, symbol string) (time.Time, bool, error) {
	raw, err := s.client.HGet(ctx, s.key(feed), symbol).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("hget cursor: %w", err)
	}
	at, err := decodeCursor(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// Advance moves the cursor forward under WATCH so concurrent writers
// cannot move it backwards.
func (s *RedisCursorStore) Advance(ctx context.Context, feed models.FeedType, symbol string, at time.Time) error {
	key := s.key(feed)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, symbol).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			if cur, derr := decodeCursor(raw); derr == nil && !at.After(cur) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, symbol, strconv.FormatInt(at.UnixNano(), 10))
			return nil
		})
		return err
	}

	for i := 0; i < advanceRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
		return nil
	}
	return fmt.Errorf("advance cursor: %w", redis.TxFailedErr)
}

func (s *RedisCursorStore) List(ctx context.Context, feed models.FeedType) ([]models.Cursor, error) {
	all, err := s.client.HGetAll(ctx, s.key(feed)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall cursors: %w", err)
	}
	out := make([]models.Cursor, 0, len(all))
	for symbol, raw := range all {
		at, err := decodeCursor(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Cursor{Feed: feed, Symbol: symbol, At: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func decodeCursor(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode cursor %q: %w", raw, err)
	}
	return time.Unix(0, n).UTC(), nil
}
