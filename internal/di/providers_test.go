package di

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketSync/internal/domain/models"
	domrepo "MarketSync/internal/domain/repository"
	"MarketSync/internal/repository"
	"MarketSync/internal/usecase"
	"MarketSync/pkg/config"
	"MarketSync/pkg/logger"
	"MarketSync/pkg/metrics"
)

const newsConfig = `
api:
  base_url: http://api.invalid
  token: t
symbols: [SPY, QQQ, AAPL]
feeds:
  - type: news
calendar:
  timezone: UTC
  open: "00:00"
  close: "23:59"
  weekdays: [mon, tue, wed, thu, fri, sat, sun]
collector:
  initial_lookback: 2h
backfill:
  chunk_pause: 1ms
cache:
  backend: none
`

type headline struct {
	title string
	at    time.Time
}

// headlineAPI serves an unscoped headline feed honouring newer_than,
// older_than and limit.
type headlineAPI struct {
	mu       sync.Mutex
	rows     []headline
	requests []domrepo.PageRequest
}

func (a *headlineAPI) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

func (a *headlineAPI) FetchPage(_ context.Context, req domrepo.PageRequest) (*domrepo.Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)

	var data []json.RawMessage
	for _, h := range a.rows {
		if h.at.Before(req.NewerThan) || !h.at.Before(req.OlderThan) {
			continue
		}
		data = append(data, json.RawMessage(fmt.Sprintf(
			`{"headline":%q,"source":"wire","created_at":%q}`, h.title, h.at.Format(time.RFC3339))))
	}
	start := req.Page * req.Limit
	if start > len(data) {
		start = len(data)
	}
	end := start + req.Limit
	if end > len(data) {
		end = len(data)
	}
	return &domrepo.Page{Data: data[start:end]}, nil
}

func newsEngine(t *testing.T, api domrepo.MarketAPI) (*repository.MemoryStore, *usecase.Engine) {
	t.Helper()
	cfg, err := config.Parse([]byte(newsConfig))
	require.NoError(t, err)

	m := metrics.NewNop()
	lgr := logger.Nop()
	fetcher := ProvideFetcher(cfg, api, ProvideRateLimiter(cfg, prometheus.NewRegistry(), m), nil, m, lgr)
	store := repository.NewMemoryStore()
	cal, err := ProvideCalendar(cfg)
	require.NoError(t, err)

	engine, err := ProvideEngine(cfg, fetcher, store, repository.NewMemoryCursorStore(), cal, nil, m, lgr)
	require.NoError(t, err)
	return store, engine
}

func TestProvideEngineCollectsUnscopedFeedOnce(t *testing.T) {
	now := time.Now().UTC()
	api := &headlineAPI{rows: []headline{
		{"Fed holds rates", now.Add(-40 * time.Minute)},
		{"Chipmakers rally", now.Add(-20 * time.Minute)},
	}}
	store, h := newsEngine(t, api)

	assert.Equal(t, []models.FeedInfo{{Feed: models.FeedNews}}, h.Describe())

	reports, err := h.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	if reports[0].Skipped {
		t.Skip("tick landed in the closed minute of the session")
	}
	assert.Equal(t, map[string]int{"": 2}, reports[0].PerSymbol)
	assert.Equal(t, 1, api.calls())

	records := store.Records(models.FeedNews)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, "", rec.Symbol)
	}
}

func TestProvideEngineNewsBackfillConverges(t *testing.T) {
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	api := &headlineAPI{}
	for hour := 9; hour < 12; hour++ {
		api.rows = append(api.rows, headline{fmt.Sprintf("Headline %d", hour), day.Add(time.Duration(hour)*time.Hour + 5*time.Minute)})
	}
	_, h := newsEngine(t, api)
	ctx := context.Background()
	r := models.TimeRange{From: day.Add(9 * time.Hour), To: day.Add(12 * time.Hour)}

	gaps, err := h.Gaps(ctx, models.FeedNews, []string{"SPY"}, r)
	require.NoError(t, err)
	require.Len(t, gaps[""], 1)

	report, err := h.Backfill(ctx, models.BackfillRequest{Feed: models.FeedNews, Range: r})
	require.NoError(t, err)
	assert.Equal(t, 3, report.PerSymbol[""])

	gaps, err = h.Gaps(ctx, models.FeedNews, nil, r)
	require.NoError(t, err)
	assert.Empty(t, gaps[""])
	assert.Len(t, gaps, 1)
}

func TestProvideRateLimiterExposesWindowUsage(t *testing.T) {
	cfg, err := config.Parse([]byte(newsConfig))
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	l := ProvideRateLimiter(cfg, reg, metrics.NewNop())

	ctx := context.Background()
	require.NoError(t, l.AwaitSlot(ctx))
	require.NoError(t, l.AwaitSlot(ctx))

	expected := `
# HELP marketsync_rate_limit_used_hour Requests counted against the per-hour quota
# TYPE marketsync_rate_limit_used_hour gauge
marketsync_rate_limit_used_hour 2
# HELP marketsync_rate_limit_used_minute Requests counted against the per-minute quota
# TYPE marketsync_rate_limit_used_minute gauge
marketsync_rate_limit_used_minute 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"marketsync_rate_limit_used_minute", "marketsync_rate_limit_used_hour"))
}
