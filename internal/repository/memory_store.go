package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	"MarketSync/pkg/util"
)

// MemoryStore keeps records in process. It backs tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[models.FeedType]map[string]models.Record
	failErr error
}

var _ repository.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[models.FeedType]map[string]models.Record)}
}

// FailWith makes every later write return err until cleared with nil.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *MemoryStore) UpsertMany(ctx context.Context, feed models.FeedType, records []models.Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return 0, s.failErr
	}

	byID, ok := s.records[feed]
	if !ok {
		byID = make(map[string]models.Record)
		s.records[feed] = byID
	}
	inserted := 0
	for _, r := range records {
		if _, dup := byID[r.Identity]; dup {
			continue
		}
		r.OccurredAt = r.OccurredAt.UTC()
		byID[r.Identity] = r
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) MaxOccurredAt(_ context.Context, feed models.FeedType, symbol string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max *time.Time
	for _, r := range s.records[feed] {
		if r.Symbol != symbol {
			continue
		}
		if max == nil || r.OccurredAt.After(*max) {
			at := r.OccurredAt
			max = &at
		}
	}
	return max, nil
}

func (s *MemoryStore) DistinctCoveredWindows(_ context.Context, feed models.FeedType, symbol string, r models.TimeRange, granularity time.Duration) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[time.Time]struct{})
	for _, rec := range s.records[feed] {
		if rec.Symbol != symbol || rec.OccurredAt.Before(r.From) || !rec.OccurredAt.Before(r.To) {
			continue
		}
		set[util.FloorTo(rec.OccurredAt, granularity)] = struct{}{}
	}
	out := make([]time.Time, 0, len(set))
	for b := range set {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// Count returns how many records are stored for feed.
func (s *MemoryStore) Count(feed models.FeedType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[feed])
}

// Records returns the stored records of feed ordered by occurred_at.
func (s *MemoryStore) Records(feed models.FeedType) []models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Record, 0, len(s.records[feed]))
	for _, r := range s.records[feed] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].Identity < out[j].Identity
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out
}

func (s *MemoryStore) Health(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
