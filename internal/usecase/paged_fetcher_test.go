package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketSync/internal/domain/models"
	icache "MarketSync/internal/service/cache"
	"MarketSync/internal/service/feeds"
	"MarketSync/internal/service/marketapi"
	pkgcache "MarketSync/pkg/cache"
)

func newTestFetcher(api *fakeAPI, limit int, opts ...FetcherOption) (*PagedFetcher, *fakeLimiter, *sleepRecorder) {
	lim := &fakeLimiter{backoff: time.Second}
	sl := &sleepRecorder{}
	opts = append([]FetcherOption{WithPageLimit(limit), WithSleeper(sl.sleep)}, opts...)
	return NewPagedFetcher(api, lim, nil, nil, nil, opts...), lim, sl
}

func spyWindow(t *testing.T, from, to time.Time) models.FetchWindow {
	t.Helper()
	w, err := models.NewFetchWindow("SPY", from, to)
	require.NoError(t, err)
	return w
}

func TestFetchWindowReturnsEveryRecordOnce(t *testing.T) {
	const pageLimit = 5
	for _, n := range []int{0, pageLimit - 1, pageLimit, pageLimit + 1, 2 * pageLimit, 2*pageLimit + 3} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			api := &fakeAPI{}
			for i := 0; i < n; i++ {
				api.add(tradeRow{ID: fmt.Sprintf("t%02d", i), Symbol: "SPY", At: ts(9, 31).Add(time.Duration(i) * time.Minute)})
			}
			f, _, _ := newTestFetcher(api, pageLimit)

			res, err := f.FetchWindow(context.Background(), feeds.NewDarkPool(""), spyWindow(t, ts(9, 30), ts(16, 0)), nil)
			require.NoError(t, err)
			require.Len(t, res.Records, n)

			seen := map[string]bool{}
			for i, r := range res.Records {
				assert.False(t, seen[r.Identity], "duplicate %s", r.Identity)
				seen[r.Identity] = true
				if i > 0 {
					assert.False(t, r.OccurredAt.Before(res.Records[i-1].OccurredAt))
				}
			}
		})
	}
}

func TestFetchWindowAdvancesNewerThanPerPage(t *testing.T) {
	api := &fakeAPI{}
	api.add(
		tradeRow{ID: "1", Symbol: "SPY", At: ts(9, 31)},
		tradeRow{ID: "2", Symbol: "SPY", At: ts(9, 45)},
		tradeRow{ID: "3", Symbol: "SPY", At: ts(10, 2)},
	)
	f, _, _ := newTestFetcher(api, 2)

	res, err := f.FetchWindow(context.Background(), feeds.NewDarkPool(""), spyWindow(t, ts(9, 30), ts(16, 0)), nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 3)
	assert.Equal(t, 3, res.Pages)

	require.Len(t, api.requests, 3)
	assert.True(t, api.requests[0].NewerThan.Equal(ts(9, 30)))
	assert.True(t, api.requests[1].NewerThan.Equal(ts(9, 45)))
	assert.True(t, api.requests[2].NewerThan.Equal(ts(10, 2)))
	for _, r := range api.requests {
		assert.Equal(t, "SPY", r.Symbol)
		assert.Equal(t, "/api/darkpool/SPY", r.Path)
		assert.True(t, r.OlderThan.Equal(ts(16, 0)))
	}
}

func TestFetchWindowTiedTimestampsUsePageOffset(t *testing.T) {
	api := &fakeAPI{}
	for i := 0; i < 7; i++ {
		api.add(tradeRow{ID: fmt.Sprintf("tie-%d", i), Symbol: "SPY", At: ts(10, 0)})
	}
	f, _, _ := newTestFetcher(api, 3)

	res, err := f.FetchWindow(context.Background(), feeds.NewDarkPool(""), spyWindow(t, ts(9, 30), ts(16, 0)), nil)
	require.NoError(t, err)
	assert.Len(t, res.Records, 7)
}

func TestFetchWindowStartsAtCursor(t *testing.T) {
	api := &fakeAPI{}
	api.add(
		tradeRow{ID: "old", Symbol: "SPY", At: ts(9, 35)},
		tradeRow{ID: "new", Symbol: "SPY", At: ts(9, 50)},
	)
	f, _, _ := newTestFetcher(api, 10)
	cursor := ts(9, 40)

	res, err := f.FetchWindow(context.Background(), feeds.NewDarkPool(""), spyWindow(t, ts(9, 30), ts(16, 0)), &cursor)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "new", res.Records[0].Identity)
	assert.True(t, api.requests[0].NewerThan.Equal(cursor))
}

func TestFetchWindowDropsInvalidRecords(t *testing.T) {
	api := &fakeAPI{}
	api.add(
		tradeRow{ID: "1", Symbol: "SPY", At: ts(9, 31)},
		tradeRow{Symbol: "SPY", At: ts(9, 32), Raw: `{"ticker":"SPY","price":1,"size":1,"executed_at":"2024-03-04T09:32:00Z"}`},
		tradeRow{Symbol: "SPY", At: ts(9, 33), Raw: `{"tracking_id":"x","ticker":"SPY","price":"abc","size":1,"executed_at":"2024-03-04T09:33:00Z"}`},
		tradeRow{ID: "2", Symbol: "SPY", At: ts(9, 34)},
	)
	f, _, _ := newTestFetcher(api, 10)

	res, err := f.FetchWindow(context.Background(), feeds.NewDarkPool(""), spyWindow(t, ts(9, 30), ts(16, 0)), nil)
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, 2, res.Invalid)
}

func TestFetchWindowClipsToWindow(t *testing.T) {
	api := &fakeAPI{ignoreTS: true}
	api.add(
		tradeRow{ID: "before", Symbol: "SPY", At: ts(9, 0)},
		tradeRow{ID: "inside", Symbol: "SPY", At: ts(9, 40)},
		tradeRow{ID: "end", Symbol: "SPY", At: ts(10, 0)},
	)
	f, _, _ := newTestFetcher(api, 10)

	res, err := f.FetchWindow(context.Background(), feeds.NewDarkPool(""), spyWindow(t, ts(9, 30), ts(10, 0)), nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "inside", res.Records[0].Identity)
}

func TestFetchWindowStopsWhenHasMoreIsFalse(t *testing.T) {
	no := false
	api := &fakeAPI{hasMore: &no}
	for i := 0; i < 4; i++ {
		api.add(tradeRow{ID: fmt.Sprint(i), Symbol: "SPY", At: ts(10, i)})
	}
	f, _, _ := newTestFetcher(api, 2)

	res, err := f.FetchWindow(context.Background(), feeds.NewDarkPool(""), spyWindow(t, ts(9, 30), ts(16, 0)), nil)
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, 1, api.calls())
}

func TestFetchWindowRetriesTransientFailures(t *testing.T) {
	api := &fakeAPI{errs: []error{
		&marketapi.StatusError{Status: http.StatusBadGateway},
		marketapi.ErrMalformedResponse,
	}}
	api.add(tradeRow{ID: "1", Symbol: "SPY", At: ts(9, 31)})
	f, lim, sl := newTestFetcher(api, 10)

	res, err := f.FetchWindow(context.Background(), feeds.NewDarkPool(""), spyWindow(t, ts(9, 30), ts(16, 0)), nil)
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
	assert.Equal(t, 3, api.calls())
	assert.Equal(t, []bool{false, false, true}, lim.outcomes)
	assert.Len(t, sl.delays, 2)
}

func TestFetchWindowExhaustsRetryBudget(t *testing.T) {
	api := &fakeAPI{failFor: map[string]error{"SPY": &marketapi.StatusError{Status: http.StatusServiceUnavailable}}}
	f, _, sl := newTestFetcher(api, 10)

	_, err := f.FetchWindow(context.Background(), feeds.NewDarkPool(""), spyWindow(t, ts(9, 30), ts(16, 0)), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchExhausted)
	assert.Equal(t, 3, api.calls())
	assert.Len(t, sl.delays, 2)
}

func TestFetchWindowRateLimitDoesNotConsumeBudget(t *testing.T) {
	var errs []error
	for i := 0; i < 6; i++ {
		errs = append(errs, &marketapi.StatusError{Status: http.StatusTooManyRequests, RetryAfter: 30 * time.Second})
	}
	api := &fakeAPI{errs: errs}
	api.add(tradeRow{ID: "1", Symbol: "SPY", At: ts(9, 31)})
	f, _, sl := newTestFetcher(api, 10)

	res, err := f.FetchWindow(context.Background(), feeds.NewDarkPool(""), spyWindow(t, ts(9, 30), ts(16, 0)), nil)
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
	assert.Equal(t, 7, api.calls())
	require.Len(t, sl.delays, 6)
	for _, d := range sl.delays {
		assert.Equal(t, 30*time.Second, d)
	}
}

func TestFetchWindowPermanentErrorIsNotRetried(t *testing.T) {
	api := &fakeAPI{failFor: map[string]error{"SPY": &marketapi.StatusError{Status: http.StatusUnauthorized}}}
	f, _, sl := newTestFetcher(api, 10)

	_, err := f.FetchWindow(context.Background(), feeds.NewDarkPool(""), spyWindow(t, ts(9, 30), ts(16, 0)), nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrFetchExhausted))
	assert.Equal(t, 1, api.calls())
	assert.Empty(t, sl.delays)
}

func TestFetchWindowPageCeiling(t *testing.T) {
	api := &fakeAPI{ignoreTS: true}
	for i := 0; i < 50; i++ {
		api.add(tradeRow{ID: fmt.Sprint(i), Symbol: "SPY", At: ts(10, 0)})
	}
	f, _, _ := newTestFetcher(api, 2, WithMaxPages(4))

	_, err := f.FetchWindow(context.Background(), feeds.NewDarkPool(""), spyWindow(t, ts(9, 30), ts(16, 0)), nil)
	assert.ErrorIs(t, err, ErrPageCeiling)
	assert.Equal(t, 4, api.calls())
}

func TestFetchWindowServesRepeatsFromCache(t *testing.T) {
	api := &fakeAPI{}
	api.add(tradeRow{ID: "1", Symbol: "SPY", At: ts(9, 31)})
	store := pkgcache.NewMemoryCache(pkgcache.WithMemorySweep(0))
	defer store.Close()
	rc := icache.NewResponseCache(store, time.Minute, nil)
	f := NewPagedFetcher(api, &fakeLimiter{}, rc, nil, nil, WithPageLimit(10))
	w := spyWindow(t, ts(9, 30), ts(16, 0))

	first, err := f.FetchWindow(context.Background(), feeds.NewDarkPool(""), w, nil)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.FetchWindow(context.Background(), feeds.NewDarkPool(""), w, nil)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, api.calls())
	require.Len(t, second.Records, 1)
	assert.Equal(t, "1", second.Records[0].Identity)
}

func TestFetchWindowHonoursCancellation(t *testing.T) {
	api := &fakeAPI{}
	f, _, _ := newTestFetcher(api, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.FetchWindow(ctx, feeds.NewDarkPool(""), spyWindow(t, ts(9, 30), ts(16, 0)), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
