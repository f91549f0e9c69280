package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	store "MarketSync/internal/repository"
	"MarketSync/internal/service/calendar"
)

// fixedSpans reports the same active spans regardless of the query.
type fixedSpans []models.TimeRange

func (s fixedSpans) IsActive(t time.Time) bool {
	for _, r := range s {
		if !t.Before(r.From) && t.Before(r.To) {
			return true
		}
	}
	return false
}

func (s fixedSpans) NextActiveAfter(t time.Time) time.Time { return t }

func (s fixedSpans) ActiveSpans(q models.TimeRange) []models.TimeRange {
	var out []models.TimeRange
	for _, r := range s {
		from, to := r.From, r.To
		if from.Before(q.From) {
			from = q.From
		}
		if to.After(q.To) {
			to = q.To
		}
		if from.Before(to) {
			out = append(out, models.TimeRange{From: from, To: to})
		}
	}
	return out
}

func seed(t *testing.T, s repository.Store, at ...time.Time) {
	t.Helper()
	var records []models.Record
	for i, a := range at {
		records = append(records, models.Record{
			Identity:   a.Format(time.RFC3339) + "-" + string(rune('a'+i)),
			Feed:       models.FeedDarkPool,
			Symbol:     "SPY",
			OccurredAt: a,
		})
	}
	_, err := s.UpsertMany(context.Background(), models.FeedDarkPool, records)
	require.NoError(t, err)
}

func TestFindGapsDoesNotMergeSeparatedBuckets(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, ts(9, 15), ts(10, 59), ts(12, 0))
	active := fixedSpans{{From: ts(9, 0), To: ts(14, 0)}}
	g := NewGapAnalyzer(s, active, time.Hour)

	gaps, err := g.FindGaps(context.Background(), models.FeedDarkPool, "SPY", models.TimeRange{From: ts(9, 0), To: ts(14, 0)})
	require.NoError(t, err)
	assert.Equal(t, []models.FetchWindow{
		{Symbol: "SPY", Start: ts(11, 0), End: ts(12, 0)},
		{Symbol: "SPY", Start: ts(13, 0), End: ts(14, 0)},
	}, gaps)
}

func TestFindGapsCoalescesAdjacentBuckets(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, ts(9, 30))
	active := fixedSpans{{From: ts(9, 0), To: ts(14, 0)}}
	g := NewGapAnalyzer(s, active, time.Hour)

	gaps, err := g.FindGaps(context.Background(), models.FeedDarkPool, "SPY", models.TimeRange{From: ts(9, 0), To: ts(14, 0)})
	require.NoError(t, err)
	assert.Equal(t, []models.FetchWindow{{Symbol: "SPY", Start: ts(10, 0), End: ts(14, 0)}}, gaps)
}

func TestFindGapsIsDeterministic(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, ts(9, 10), ts(11, 20), ts(13, 5))
	active := fixedSpans{{From: ts(9, 0), To: ts(16, 0)}}
	g := NewGapAnalyzer(s, active, time.Hour)
	r := models.TimeRange{From: ts(8, 0), To: ts(17, 0)}

	first, err := g.FindGaps(context.Background(), models.FeedDarkPool, "SPY", r)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := g.FindGaps(context.Background(), models.FeedDarkPool, "SPY", r)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	for i := 1; i < len(first); i++ {
		assert.True(t, first[i-1].End.Before(first[i].Start), "gaps %v and %v touch", first[i-1], first[i])
	}
}

func TestFindGapsClipsToSession(t *testing.T) {
	cal, err := calendar.New(calendar.Config{
		Timezone: "America/New_York",
		Open:     "09:30",
		Close:    "16:00",
		Weekdays: []string{"mon", "tue", "wed", "thu", "fri"},
	})
	require.NoError(t, err)
	s := store.NewMemoryStore()
	g := NewGapAnalyzer(s, cal, time.Hour)

	// Monday 2024-03-04, EST (UTC-5): session is 14:30 to 21:00 UTC.
	day := models.TimeRange{
		From: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	}
	gaps, err := g.FindGaps(context.Background(), models.FeedDarkPool, "SPY", day)
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC), gaps[0].Start)
	assert.Equal(t, time.Date(2024, 3, 4, 21, 0, 0, 0, time.UTC), gaps[0].End)

	seed(t, s, time.Date(2024, 3, 4, 14, 45, 0, 0, time.UTC), time.Date(2024, 3, 4, 20, 10, 0, 0, time.UTC))
	gaps, err = g.FindGaps(context.Background(), models.FeedDarkPool, "SPY", day)
	require.NoError(t, err)
	assert.Equal(t, []models.FetchWindow{{
		Symbol: "SPY",
		Start:  time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC),
	}}, gaps)
}

func TestFindGapsOutsideSessionIsEmpty(t *testing.T) {
	g := NewGapAnalyzer(store.NewMemoryStore(), fixedSpans{}, time.Hour)
	gaps, err := g.FindGaps(context.Background(), models.FeedDarkPool, "SPY", models.TimeRange{From: ts(9, 0), To: ts(10, 0)})
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestFindGapsRejectsEmptyRange(t *testing.T) {
	g := NewGapAnalyzer(store.NewMemoryStore(), alwaysOpen{}, time.Hour)
	_, err := g.FindGaps(context.Background(), models.FeedDarkPool, "SPY", models.TimeRange{From: ts(10, 0), To: ts(10, 0)})
	assert.True(t, errors.Is(err, models.ErrEmptyWindow))
}
