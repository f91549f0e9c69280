package repository

import (
	"context"
	"encoding/json"
	"time"

	"MarketSync/internal/domain/models"
)

// Feed describes one API stream: where to fetch it and how to read its records.
type Feed interface {
	Type() models.FeedType
	// Path returns the request path for symbol. Symbol-agnostic feeds ignore it.
	Path(symbol string) string
	// SymbolScoped reports whether requests are filtered by symbol.
	SymbolScoped() bool
	Validate(raw json.RawMessage) bool
	Decode(raw json.RawMessage) (models.Record, error)
}

// PageRequest is one call against the market data API.
type PageRequest struct {
	Path      string
	Symbol    string
	NewerThan time.Time
	OlderThan time.Time
	Limit     int
	Page      int
}

// Page is one decoded API response. HasMore is nil when the API says nothing.
type Page struct {
	Data    []json.RawMessage
	HasMore *bool
}

type MarketAPI interface {
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
}

type RateLimiter interface {
	AwaitSlot(ctx context.Context) error
	RecordOutcome(success bool)
	Backoff() time.Duration
}

type ResponseCache interface {
	Get(ctx context.Context, fingerprint string) ([]models.Record, bool)
	Put(ctx context.Context, fingerprint string, records []models.Record)
}

// Store owns persisted records and is the single idempotency boundary.
type Store interface {
	// UpsertMany inserts records, ignoring identities already stored, and
	// returns how many were new. The batch commits entirely or not at all.
	UpsertMany(ctx context.Context, feed models.FeedType, records []models.Record) (int, error)
	// MaxOccurredAt returns nil when nothing is stored for symbol.
	MaxOccurredAt(ctx context.Context, feed models.FeedType, symbol string) (*time.Time, error)
	// DistinctCoveredWindows returns the sorted starts of granularity-aligned
	// buckets in r that hold at least one record.
	DistinctCoveredWindows(ctx context.Context, feed models.FeedType, symbol string, r models.TimeRange, granularity time.Duration) ([]time.Time, error)
	Health(ctx context.Context) error
	Close() error
}

// CursorStore keeps the per feed and symbol high-water marks.
type CursorStore interface {
	Get(ctx context.Context, feed models.FeedType, symbol string) (time.Time, bool, error)
	// Advance moves the cursor forward; earlier values are ignored.
	Advance(ctx context.Context, feed models.FeedType, symbol string, at time.Time) error
	List(ctx context.Context, feed models.FeedType) ([]models.Cursor, error)
}

type Calendar interface {
	IsActive(t time.Time) bool
	NextActiveAfter(t time.Time) time.Time
	// ActiveSpans returns the maximal active intervals inside r, in order.
	ActiveSpans(r models.TimeRange) []models.TimeRange
}

// Publisher fans collected records out to downstream consumers.
type Publisher interface {
	PublishRecords(ctx context.Context, feed models.FeedType, records []models.Record) error
	Close() error
}

type Metrics interface {
	RecordFetched(feed, symbol string, n int)
	RecordInserted(feed, symbol string, n int)
	RecordInvalid(feed string, n int)
	RecordWindowFailure(feed, stage string)
	RecordRequest(feed, status string)
	RecordRateLimitWait(seconds float64)
	SetCursorLag(feed, symbol string, seconds float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
