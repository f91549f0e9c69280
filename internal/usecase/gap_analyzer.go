package usecase

import (
	"context"
	"fmt"
	"time"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	"MarketSync/pkg/util"
)

// GapAnalyzer diffs the calendar's active time against what the store holds.
// It keeps no state, so repeated calls over the same store contents agree.
type GapAnalyzer struct {
	store       repository.Store
	calendar    repository.Calendar
	granularity time.Duration
}

// NewGapAnalyzer uses hourly buckets when granularity is not positive.
func NewGapAnalyzer(store repository.Store, cal repository.Calendar, granularity time.Duration) *GapAnalyzer {
	if granularity <= 0 {
		granularity = time.Hour
	}
	return &GapAnalyzer{store: store, calendar: cal, granularity: granularity}
}

func (g *GapAnalyzer) Granularity() time.Duration { return g.granularity }

// FindGaps returns the maximal active windows of r holding no records for
// symbol, in time order. No two returned windows touch.
func (g *GapAnalyzer) FindGaps(ctx context.Context, feed models.FeedType, symbol string, r models.TimeRange) ([]models.FetchWindow, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %s >= %s", models.ErrEmptyWindow, r.From, r.To)
	}
	spans := g.calendar.ActiveSpans(r)
	if len(spans) == 0 {
		return nil, nil
	}

	covered, err := g.store.DistinctCoveredWindows(ctx, feed, symbol, r, g.granularity)
	if err != nil {
		return nil, fmt.Errorf("covered windows for %s/%s: %w", feed, symbol, err)
	}
	present := make(map[int64]struct{}, len(covered))
	for _, b := range covered {
		present[util.FloorTo(b, g.granularity).Unix()] = struct{}{}
	}

	var gaps []models.FetchWindow
	for _, span := range spans {
		for b := util.FloorTo(span.From, g.granularity); b.Before(span.To); b = b.Add(g.granularity) {
			if _, ok := present[b.Unix()]; ok {
				continue
			}
			start, end := b, b.Add(g.granularity)
			if start.Before(span.From) {
				start = span.From
			}
			if end.After(span.To) {
				end = span.To
			}
			if n := len(gaps); n > 0 && gaps[n-1].End.Equal(start) {
				gaps[n-1].End = end
				continue
			}
			gaps = append(gaps, models.FetchWindow{Symbol: symbol, Start: start.UTC(), End: end.UTC()})
		}
	}
	return gaps, nil
}
