package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
)

// tradeRow is one dark-pool trade served by fakeAPI.
type tradeRow struct {
	ID     string
	Symbol string
	At     time.Time
	Raw    string // overrides the generated body when set
}

func (r tradeRow) body() json.RawMessage {
	if r.Raw != "" {
		return json.RawMessage(r.Raw)
	}
	return json.RawMessage(fmt.Sprintf(
		`{"tracking_id":%q,"ticker":%q,"price":412.5,"size":100,"executed_at":%q}`,
		r.ID, r.Symbol, r.At.UTC().Format(time.RFC3339Nano)))
}

// fakeAPI serves rows honouring newer_than (inclusive), older_than
// (exclusive), limit and page offsets, like the real provider.
type fakeAPI struct {
	mu   sync.Mutex
	rows []tradeRow
	// errs are returned, in order, before any data.
	errs []error
	// failFor fails every request for a symbol.
	failFor  map[string]error
	hasMore  *bool
	ignoreTS bool
	requests []repository.PageRequest
}

func (a *fakeAPI) add(rows ...tradeRow) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, rows...)
}

func (a *fakeAPI) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

func (a *fakeAPI) callsFor(symbol string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, r := range a.requests {
		if r.Symbol == symbol {
			n++
		}
	}
	return n
}

func (a *fakeAPI) FetchPage(ctx context.Context, req repository.PageRequest) (*repository.Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		return nil, err
	}
	if err, ok := a.failFor[req.Symbol]; ok {
		return nil, err
	}

	var match []tradeRow
	for _, r := range a.rows {
		if req.Symbol != "" && r.Symbol != req.Symbol {
			continue
		}
		if !a.ignoreTS && (r.At.Before(req.NewerThan) || !r.At.Before(req.OlderThan)) {
			continue
		}
		match = append(match, r)
	}
	sort.SliceStable(match, func(i, j int) bool { return match[i].At.Before(match[j].At) })

	offset := req.Page * req.Limit
	if offset > len(match) {
		offset = len(match)
	}
	end := offset + req.Limit
	if end > len(match) {
		end = len(match)
	}
	page := &repository.Page{HasMore: a.hasMore}
	for _, r := range match[offset:end] {
		page.Data = append(page.Data, r.body())
	}
	return page, nil
}

// fakeLimiter never blocks and records outcomes.
type fakeLimiter struct {
	mu       sync.Mutex
	backoff  time.Duration
	outcomes []bool
}

func (l *fakeLimiter) AwaitSlot(ctx context.Context) error { return ctx.Err() }

func (l *fakeLimiter) RecordOutcome(success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, success)
}

func (l *fakeLimiter) Backoff() time.Duration { return l.backoff }

// sleepRecorder replaces real sleeping in retry loops.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

// memCursors is a minimal CursorStore.
type memCursors struct {
	mu   sync.Mutex
	data map[string]time.Time
	fail error
}

func newMemCursors() *memCursors { return &memCursors{data: map[string]time.Time{}} }

func (c *memCursors) key(feed models.FeedType, symbol string) string {
	return string(feed) + "/" + symbol
}

func (c *memCursors) Get(_ context.Context, feed models.FeedType, symbol string) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.data[c.key(feed, symbol)]
	return at, ok, nil
}

func (c *memCursors) Advance(_ context.Context, feed models.FeedType, symbol string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	k := c.key(feed, symbol)
	if cur, ok := c.data[k]; ok && !at.After(cur) {
		return nil
	}
	c.data[k] = at
	return nil
}

func (c *memCursors) List(_ context.Context, feed models.FeedType) ([]models.Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Cursor
	prefix := string(feed) + "/"
	for k, at := range c.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, models.Cursor{Feed: feed, Symbol: strings.TrimPrefix(k, prefix), At: at})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// capturePublisher records published batches.
type capturePublisher struct {
	mu      sync.Mutex
	batches [][]models.Record
	err     error
}

func (p *capturePublisher) PublishRecords(_ context.Context, _ models.FeedType, records []models.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, records)
	return p.err
}

func (p *capturePublisher) Close() error { return nil }

// alwaysOpen is a calendar with no closed periods.
type alwaysOpen struct{}

func (alwaysOpen) IsActive(time.Time) bool { return true }

func (alwaysOpen) NextActiveAfter(t time.Time) time.Time { return t }

func (alwaysOpen) ActiveSpans(r models.TimeRange) []models.TimeRange {
	if !r.Valid() {
		return nil
	}
	return []models.TimeRange{r}
}

func ts(hh, mm int) time.Time {
	return time.Date(2024, 3, 4, hh, mm, 0, 0, time.UTC)
}
