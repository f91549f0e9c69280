package usecase

import (
	"context"
	"time"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	"MarketSync/pkg/logger"
	"MarketSync/pkg/metrics"
)

// WindowFetcher returns every record of a window.
type WindowFetcher interface {
	FetchWindow(ctx context.Context, feed repository.Feed, w models.FetchWindow, cursor *time.Time) (*models.FetchResult, error)
}

// windowOutcome counts what one window produced.
type windowOutcome struct {
	Fetched  int
	Inserted int
	Invalid  int
}

// windowWorker fetches one window and lands it in the store. Both the
// incremental loop and backfill go through it.
type windowWorker struct {
	feed      repository.Feed
	fetcher   WindowFetcher
	store     repository.Store
	publisher repository.Publisher
	metrics   repository.Metrics
	logger    *logger.Logger
}

func newWindowWorker(feed repository.Feed, fetcher WindowFetcher, store repository.Store, pub repository.Publisher, m repository.Metrics, lgr *logger.Logger) windowWorker {
	if m == nil {
		m = metrics.NewNop()
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	return windowWorker{
		feed:      feed,
		fetcher:   fetcher,
		store:     store,
		publisher: pub,
		metrics:   m,
		logger:    lgr.With(logger.String("feed", feed.Type().String())),
	}
}

// process returns a *WindowError when the window must be retried later.
// Nothing is committed for a failed window.
func (ww windowWorker) process(ctx context.Context, w models.FetchWindow, cursor *time.Time) (windowOutcome, error) {
	var out windowOutcome
	kind := ww.feed.Type()

	res, err := ww.fetcher.FetchWindow(ctx, ww.feed, w, cursor)
	if err != nil {
		return out, ww.fail(w, StageFetch, err)
	}
	out.Fetched = len(res.Records)
	out.Invalid = res.Invalid

	start := time.Now()
	inserted, err := ww.store.UpsertMany(ctx, kind, res.Records)
	ww.metrics.RecordLatency("store_upsert", time.Since(start).Seconds())
	if err != nil {
		return out, ww.fail(w, StagePersist, err)
	}
	out.Inserted = inserted
	ww.metrics.RecordInserted(kind.String(), w.Symbol, inserted)

	if ww.publisher != nil && len(res.Records) > 0 {
		if err := ww.publisher.PublishRecords(ctx, kind, res.Records); err != nil {
			ww.metrics.RecordError("publish")
			ww.logger.Warn("publish records failed",
				logger.String("window", w.String()),
				logger.Int("records", len(res.Records)),
				logger.Error(err))
		}
	}
	return out, nil
}

func (ww windowWorker) fail(w models.FetchWindow, stage string, err error) error {
	ww.metrics.RecordWindowFailure(ww.feed.Type().String(), stage)
	ww.logger.Error("window failed",
		logger.String("symbol", w.Symbol),
		logger.Time("start", w.Start),
		logger.Time("end", w.End),
		logger.String("stage", stage),
		logger.Error(err))
	return &WindowError{Feed: ww.feed.Type(), Window: w, Stage: stage, Err: err}
}
