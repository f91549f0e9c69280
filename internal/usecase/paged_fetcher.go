package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	icache "MarketSync/internal/service/cache"
	"MarketSync/internal/service/marketapi"
	"MarketSync/pkg/logger"
	"MarketSync/pkg/metrics"
)

// FetcherOption configures PagedFetcher.
type FetcherOption func(*PagedFetcher)

// WithPageLimit sets the per-request record limit.
func WithPageLimit(n int) FetcherOption {
	return func(f *PagedFetcher) { f.pageLimit = n }
}

// WithMaxAttempts sets the retry budget for transient failures of one page.
func WithMaxAttempts(n int) FetcherOption {
	return func(f *PagedFetcher) { f.maxAttempts = n }
}

// WithMaxPages caps how many pages one window may take.
func WithMaxPages(n int) FetcherOption {
	return func(f *PagedFetcher) { f.maxPages = n }
}

// WithCallTimeout bounds every API call.
func WithCallTimeout(d time.Duration) FetcherOption {
	return func(f *PagedFetcher) { f.callTimeout = d }
}

// WithSleeper replaces the context-aware sleep used between retries.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) FetcherOption {
	return func(f *PagedFetcher) { f.sleep = fn }
}

// WithFetcherClock replaces time.Now for collected_at stamps.
func WithFetcherClock(now func() time.Time) FetcherOption {
	return func(f *PagedFetcher) { f.now = now }
}

// PagedFetcher fetches every record of one window, walking pages with a
// monotonically advancing newer_than bound.
type PagedFetcher struct {
	api     repository.MarketAPI
	limiter repository.RateLimiter
	cache   repository.ResponseCache
	metrics repository.Metrics
	logger  *logger.Logger

	pageLimit   int
	maxAttempts int
	maxPages    int
	callTimeout time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
}

// NewPagedFetcher builds a fetcher. cache may be nil.
func NewPagedFetcher(
	api repository.MarketAPI,
	limiter repository.RateLimiter,
	cache repository.ResponseCache,
	m repository.Metrics,
	lgr *logger.Logger,
	opts ...FetcherOption,
) *PagedFetcher {
	if m == nil {
		m = metrics.NewNop()
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	f := &PagedFetcher{
		api:         api,
		limiter:     limiter,
		cache:       cache,
		metrics:     m,
		logger:      lgr,
		pageLimit:   500,
		maxAttempts: 3,
		maxPages:    500,
		callTimeout: 30 * time.Second,
		sleep:       sleepCtx,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.pageLimit <= 0 {
		f.pageLimit = 500
	}
	if f.maxAttempts <= 0 {
		f.maxAttempts = 1
	}
	return f
}

// FetchWindow returns the records of feed inside w, starting no earlier than
// cursor when one is given. Records come back sorted by occurred_at, each
// identity once.
func (f *PagedFetcher) FetchWindow(ctx context.Context, feed repository.Feed, w models.FetchWindow, cursor *time.Time) (*models.FetchResult, error) {
	key := icache.Fingerprint(feed.Type(), w, 0, cursor)
	if f.cache != nil {
		if records, ok := f.cache.Get(ctx, key); ok {
			return &models.FetchResult{Records: records, FromCache: true}, nil
		}
	}

	newer := w.Start
	if cursor != nil && cursor.After(newer) {
		newer = *cursor
	}

	result := &models.FetchResult{Records: []models.Record{}}
	seen := make(map[string]struct{})
	page := 0
	for newer.Before(w.End) {
		if result.Pages >= f.maxPages {
			return nil, fmt.Errorf("%w: %d pages in %s", ErrPageCeiling, result.Pages, w)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req := repository.PageRequest{
			Path:      feed.Path(w.Symbol),
			NewerThan: newer,
			OlderThan: w.End,
			Limit:     f.pageLimit,
			Page:      page,
		}
		if feed.SymbolScoped() {
			req.Symbol = w.Symbol
		}

		p, err := f.fetchPage(ctx, feed.Type(), req)
		if err != nil {
			return nil, err
		}
		result.Pages++

		maxSeen := newer
		collectedAt := f.now().UTC()
		for _, raw := range p.Data {
			if !feed.Validate(raw) {
				result.Invalid++
				continue
			}
			rec, err := feed.Decode(raw)
			if err != nil {
				result.Invalid++
				continue
			}
			if rec.OccurredAt.After(maxSeen) {
				maxSeen = rec.OccurredAt
			}
			if !w.Contains(rec.OccurredAt) {
				continue
			}
			if _, dup := seen[rec.Identity]; dup {
				continue
			}
			seen[rec.Identity] = struct{}{}
			rec.Symbol = w.Symbol
			rec.CollectedAt = collectedAt
			result.Records = append(result.Records, rec)
		}

		if len(p.Data) < f.pageLimit || (p.HasMore != nil && !*p.HasMore) {
			break
		}
		// Advance by time; only fall back to the offset when a full page
		// shares one timestamp.
		if maxSeen.After(newer) {
			newer = maxSeen
			page = 0
		} else {
			page++
		}
	}

	sort.SliceStable(result.Records, func(i, j int) bool {
		return result.Records[i].OccurredAt.Before(result.Records[j].OccurredAt)
	})

	feedName := feed.Type().String()
	f.metrics.RecordFetched(feedName, w.Symbol, len(result.Records))
	if result.Invalid > 0 {
		f.metrics.RecordInvalid(feedName, result.Invalid)
		f.logger.Warn("dropped invalid records",
			logger.String("feed", feedName),
			logger.String("symbol", w.Symbol),
			logger.Int("invalid", result.Invalid))
	}

	if f.cache != nil {
		f.cache.Put(ctx, key, result.Records)
	}
	return result, nil
}

// fetchPage performs one request with pacing and retries. 429s are retried
// without limit; other transient failures consume the attempt budget.
func (f *PagedFetcher) fetchPage(ctx context.Context, feed models.FeedType, req repository.PageRequest) (*repository.Page, error) {
	failures := 0
	for {
		if err := f.limiter.AwaitSlot(ctx); err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, f.callTimeout)
		start := time.Now()
		page, err := f.api.FetchPage(callCtx, req)
		cancel()
		f.metrics.RecordLatency("api_fetch_page", time.Since(start).Seconds())

		if err == nil {
			f.limiter.RecordOutcome(true)
			f.metrics.RecordRequest(feed.String(), "ok")
			return page, nil
		}

		f.limiter.RecordOutcome(false)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		delay := f.limiter.Backoff()
		if ra := marketapi.RetryAfter(err); ra > delay {
			delay = ra
		}

		switch {
		case marketapi.IsRateLimited(err):
			f.metrics.RecordRequest(feed.String(), "rate_limited")
			f.logger.Warn("rate limited, backing off",
				logger.String("feed", feed.String()),
				logger.String("symbol", req.Symbol),
				logger.Duration("delay_ms", delay))
		case marketapi.IsRetryable(err):
			failures++
			f.metrics.RecordRequest(feed.String(), "transient")
			if failures >= f.maxAttempts {
				return nil, fmt.Errorf("%w after %d attempts: %w", ErrFetchExhausted, failures, err)
			}
			f.logger.Warn("transient fetch failure, retrying",
				logger.String("feed", feed.String()),
				logger.String("symbol", req.Symbol),
				logger.Int("attempt", failures),
				logger.Duration("delay_ms", delay),
				logger.Error(err))
		default:
			f.metrics.RecordRequest(feed.String(), "failed")
			return nil, fmt.Errorf("fetch page: %w", err)
		}

		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
