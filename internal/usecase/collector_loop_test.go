package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketSync/internal/domain/models"
	store "MarketSync/internal/repository"
	"MarketSync/internal/service/calendar"
	"MarketSync/internal/service/feeds"
	"MarketSync/internal/service/marketapi"
)

var newYork = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
	return loc
}()

// et returns Monday 2024-03-04 at hh:mm New York time.
func et(hh, mm int) time.Time {
	return time.Date(2024, 3, 4, hh, mm, 0, 0, newYork)
}

func nyseCalendar(t *testing.T) *calendar.Calendar {
	t.Helper()
	cal, err := calendar.New(calendar.Config{
		Timezone: "America/New_York",
		Open:     "09:30",
		Close:    "16:00",
		Weekdays: []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"},
	})
	require.NoError(t, err)
	return cal
}

type loopFixture struct {
	api     *fakeAPI
	store   *store.MemoryStore
	cursors *memCursors
	pub     *capturePublisher
	loop    *CollectorLoop
}

func newLoopFixture(t *testing.T, symbols []string, now time.Time, opts ...LoopOption) *loopFixture {
	t.Helper()
	api := &fakeAPI{}
	s := store.NewMemoryStore()
	cursors := newMemCursors()
	pub := &capturePublisher{}
	fetcher, _, _ := newTestFetcher(api, 2)
	opts = append([]LoopOption{WithLoopClock(func() time.Time { return now })}, opts...)
	loop := NewCollectorLoop(feeds.NewDarkPool(""), symbols, fetcher, s, cursors, nyseCalendar(t), pub, nil, nil, opts...)
	return &loopFixture{api: api, store: s, cursors: cursors, pub: pub, loop: loop}
}

func (f *loopFixture) cursor(t *testing.T, symbol string) time.Time {
	t.Helper()
	at, ok, err := f.cursors.Get(context.Background(), models.FeedDarkPool, symbol)
	require.NoError(t, err)
	require.True(t, ok, "no cursor for %s", symbol)
	return at
}

func TestTickCollectsSPYScenario(t *testing.T) {
	now := et(10, 5)
	f := newLoopFixture(t, []string{"SPY"}, now)
	f.api.add(
		tradeRow{ID: "dp-1", Symbol: "SPY", At: et(9, 31)},
		tradeRow{ID: "dp-2", Symbol: "SPY", At: et(9, 45)},
		tradeRow{ID: "dp-3", Symbol: "SPY", At: et(10, 2)},
	)
	ctx := context.Background()
	require.NoError(t, f.cursors.Advance(ctx, models.FeedDarkPool, "SPY", et(9, 30)))

	report, err := f.loop.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 3, report.Inserted)
	assert.Equal(t, 3, report.PerSymbol["SPY"])
	assert.Equal(t, 3, f.api.calls())

	var ids []string
	for _, r := range f.store.Records(models.FeedDarkPool) {
		ids = append(ids, r.Identity)
		assert.Equal(t, "SPY", r.Symbol)
	}
	assert.Equal(t, []string{"dp-1", "dp-2", "dp-3"}, ids)
	assert.True(t, f.cursor(t, "SPY").Equal(now))
	require.Len(t, f.pub.batches, 1)
	assert.Len(t, f.pub.batches[0], 3)

	// Same clock: the window [cursor, now) is empty.
	report, err = f.loop.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Inserted)
	assert.Equal(t, 3, f.api.calls())
	assert.Equal(t, 3, f.store.Count(models.FeedDarkPool))
}

func TestTickReplayInsertsNothingNew(t *testing.T) {
	now := et(10, 5)
	f := newLoopFixture(t, []string{"SPY"}, now)
	f.api.add(
		tradeRow{ID: "dp-1", Symbol: "SPY", At: et(9, 31)},
		tradeRow{ID: "dp-2", Symbol: "SPY", At: et(9, 45)},
		tradeRow{ID: "dp-3", Symbol: "SPY", At: et(10, 2)},
	)
	ctx := context.Background()
	require.NoError(t, f.cursors.Advance(ctx, models.FeedDarkPool, "SPY", et(9, 30)))
	_, err := f.loop.Tick(ctx)
	require.NoError(t, err)

	// A lost cursor store replays the same window against the same data.
	f.loop.cursors = newMemCursors()
	require.NoError(t, f.loop.cursors.Advance(ctx, models.FeedDarkPool, "SPY", et(9, 30)))
	report, err := f.loop.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Fetched)
	assert.Zero(t, report.Inserted)
	assert.Equal(t, 3, f.store.Count(models.FeedDarkPool))
}

func TestTickOutsideSessionIsNoop(t *testing.T) {
	saturday := time.Date(2024, 3, 9, 11, 0, 0, 0, newYork)
	f := newLoopFixture(t, []string{"SPY"}, saturday)

	report, err := f.loop.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.True(t, report.NextActive.Equal(time.Date(2024, 3, 11, 9, 30, 0, 0, newYork)))
	assert.Zero(t, f.api.calls())
	assert.Empty(t, f.cursors.data)
}

func TestTickDoesNotAdvanceCursorOnFailure(t *testing.T) {
	now := et(11, 0)
	f := newLoopFixture(t, []string{"SPY", "QQQ"}, now)
	f.api.add(
		tradeRow{ID: "s1", Symbol: "SPY", At: et(10, 15)},
		tradeRow{ID: "q1", Symbol: "QQQ", At: et(10, 20)},
	)
	f.api.failFor = map[string]error{"SPY": &marketapi.StatusError{Status: http.StatusBadGateway}}
	ctx := context.Background()
	for _, sym := range []string{"SPY", "QQQ"} {
		require.NoError(t, f.cursors.Advance(ctx, models.FeedDarkPool, sym, et(10, 0)))
	}

	report, err := f.loop.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FailedWindows)
	assert.Equal(t, 1, report.PerSymbol["QQQ"])
	assert.Equal(t, 0, report.PerSymbol["SPY"])
	assert.True(t, f.cursor(t, "SPY").Equal(et(10, 0)))
	assert.True(t, f.cursor(t, "QQQ").Equal(now))
}

func TestTickPersistFailureKeepsCursor(t *testing.T) {
	now := et(11, 0)
	f := newLoopFixture(t, []string{"SPY"}, now)
	f.api.add(tradeRow{ID: "s1", Symbol: "SPY", At: et(10, 15)})
	f.store.FailWith(errors.New("deadlock detected"))
	ctx := context.Background()
	require.NoError(t, f.cursors.Advance(ctx, models.FeedDarkPool, "SPY", et(10, 0)))

	report, err := f.loop.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FailedWindows)
	assert.True(t, f.cursor(t, "SPY").Equal(et(10, 0)))
	assert.Empty(t, f.pub.batches)
}

func TestTickCursorIsMonotonic(t *testing.T) {
	ctx := context.Background()
	clock := et(9, 40)
	f := newLoopFixture(t, []string{"SPY"}, clock, WithLoopClock(func() time.Time { return clock }))
	for i := 0; i < 30; i++ {
		f.api.add(tradeRow{ID: fmt.Sprintf("t%d", i), Symbol: "SPY", At: et(9, 31).Add(time.Duration(i) * 7 * time.Minute)})
	}
	require.NoError(t, f.cursors.Advance(ctx, models.FeedDarkPool, "SPY", et(9, 30)))

	prev := f.cursor(t, "SPY")
	for i := 0; i < 12; i++ {
		_, err := f.loop.Tick(ctx)
		require.NoError(t, err)
		cur := f.cursor(t, "SPY")
		assert.False(t, cur.Before(prev), "cursor moved back from %s to %s", prev, cur)
		prev = cur
		clock = clock.Add(20 * time.Minute)
	}
	stored := f.store.Records(models.FeedDarkPool)
	assert.True(t, sort.SliceIsSorted(stored, func(i, j int) bool { return stored[i].OccurredAt.Before(stored[j].OccurredAt) }))
}

func TestTickBootstrapsCursor(t *testing.T) {
	ctx := context.Background()
	now := et(12, 0)

	t.Run("from newest stored record", func(t *testing.T) {
		f := newLoopFixture(t, []string{"SPY"}, now)
		_, err := f.store.UpsertMany(ctx, models.FeedDarkPool, []models.Record{{
			Identity: "seen", Feed: models.FeedDarkPool, Symbol: "SPY", OccurredAt: et(11, 30),
		}})
		require.NoError(t, err)

		_, err = f.loop.Tick(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, f.api.requests)
		assert.True(t, f.api.requests[0].NewerThan.Equal(et(11, 30)))
	})

	t.Run("from lookback", func(t *testing.T) {
		f := newLoopFixture(t, []string{"SPY"}, now, WithInitialLookback(90*time.Minute), WithLoopMaxChunk(time.Hour))
		_, err := f.loop.Tick(ctx)
		require.NoError(t, err)
		require.Len(t, f.api.requests, 2)
		assert.True(t, f.api.requests[0].NewerThan.Equal(et(10, 30)))
		assert.True(t, f.api.requests[1].NewerThan.Equal(et(11, 30)))
		assert.True(t, f.cursor(t, "SPY").Equal(now))
	})
}

func TestTickRunsSymbolsConcurrently(t *testing.T) {
	now := et(11, 0)
	symbols := []string{"AAPL", "AMZN", "MSFT", "NVDA", "QQQ", "SPY", "TSLA"}
	f := newLoopFixture(t, symbols, now, WithWorkers(3))
	ctx := context.Background()
	for i, sym := range symbols {
		f.api.add(tradeRow{ID: sym + "-1", Symbol: sym, At: et(10, 10+i)})
		require.NoError(t, f.cursors.Advance(ctx, models.FeedDarkPool, sym, et(10, 0)))
	}

	report, err := f.loop.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(symbols), report.Inserted)
	for _, sym := range symbols {
		assert.Equal(t, 1, report.PerSymbol[sym])
		assert.Equal(t, 1, f.api.callsFor(sym))
	}
}

func TestTickReturnsCancellation(t *testing.T) {
	f := newLoopFixture(t, []string{"SPY"}, et(11, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.loop.Tick(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
