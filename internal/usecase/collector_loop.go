package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	"MarketSync/pkg/logger"
)

// LoopOption configures CollectorLoop.
type LoopOption func(*CollectorLoop)

// WithLoopClock replaces time.Now.
func WithLoopClock(now func() time.Time) LoopOption {
	return func(c *CollectorLoop) { c.now = now }
}

// WithWorkers bounds how many symbols are collected concurrently.
func WithWorkers(n int) LoopOption {
	return func(c *CollectorLoop) { c.workers = n }
}

// WithInitialLookback sets how far back a symbol with no history starts.
func WithInitialLookback(d time.Duration) LoopOption {
	return func(c *CollectorLoop) { c.lookback = d }
}

// WithLoopMaxChunk bounds each incremental sub-window.
func WithLoopMaxChunk(d time.Duration) LoopOption {
	return func(c *CollectorLoop) { c.maxChunk = d }
}

// CollectorLoop performs incremental collection for one feed. Each Tick
// fetches [cursor, now) per symbol and advances the cursor only after the
// window is persisted.
type CollectorLoop struct {
	worker   windowWorker
	symbols  []string
	calendar repository.Calendar
	cursors  repository.CursorStore

	workers  int
	lookback time.Duration
	maxChunk time.Duration
	now      func() time.Time
}

func NewCollectorLoop(
	feed repository.Feed,
	symbols []string,
	fetcher WindowFetcher,
	store repository.Store,
	cursors repository.CursorStore,
	cal repository.Calendar,
	pub repository.Publisher,
	m repository.Metrics,
	lgr *logger.Logger,
	opts ...LoopOption,
) *CollectorLoop {
	c := &CollectorLoop{
		worker:   newWindowWorker(feed, fetcher, store, pub, m, lgr),
		symbols:  TrackedSymbols(feed, symbols),
		calendar: cal,
		cursors:  cursors,
		workers:  2,
		lookback: 24 * time.Hour,
		maxChunk: 4 * time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.workers <= 0 {
		c.workers = 1
	}
	return c
}

func (c *CollectorLoop) Symbols() []string { return c.symbols }

// Tick runs one collection cycle. Outside the trading calendar it does
// nothing and reports the next active instant. A failing symbol never stops
// the others; only cancellation is returned as an error.
func (c *CollectorLoop) Tick(ctx context.Context) (*models.TickReport, error) {
	now := c.now().UTC()
	feed := c.worker.feed.Type()
	report := &models.TickReport{Feed: feed, PerSymbol: make(map[string]int, len(c.symbols))}

	if !c.calendar.IsActive(now) {
		report.Skipped = true
		report.NextActive = c.calendar.NextActiveAfter(now)
		c.worker.logger.Info("outside trading session, skipping tick",
			logger.Time("now", now),
			logger.Time("next_active", report.NextActive))
		return report, nil
	}

	started := time.Now()
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, symbol := range c.symbols {
		symbol := symbol
		g.Go(func() error {
			out, failed := c.collectSymbol(gctx, symbol, now)
			mu.Lock()
			defer mu.Unlock()
			report.Fetched += out.Fetched
			report.Inserted += out.Inserted
			report.Invalid += out.Invalid
			report.FailedWindows += failed
			report.PerSymbol[symbol] = out.Inserted
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return report, err
	}

	c.worker.logger.Info("tick complete",
		logger.Int("symbols", len(c.symbols)),
		logger.Int("fetched", report.Fetched),
		logger.Int("inserted", report.Inserted),
		logger.Int("skipped_invalid", report.Invalid),
		logger.Int("failed_windows", report.FailedWindows),
		logger.Duration("duration_ms", time.Since(started)))
	return report, nil
}

// collectSymbol walks [cursor, now) in chunks, in time order, and stops at
// the first failed chunk so the cursor never passes unpersisted data.
func (c *CollectorLoop) collectSymbol(ctx context.Context, symbol string, now time.Time) (windowOutcome, int) {
	var total windowOutcome
	feed := c.worker.feed.Type()

	cursor, err := c.startingCursor(ctx, symbol, now)
	if err != nil {
		c.worker.metrics.RecordWindowFailure(feed.String(), StageCursor)
		c.worker.logger.Error("resolve cursor failed", logger.String("symbol", symbol), logger.Error(err))
		return total, 1
	}
	if !cursor.Before(now) {
		return total, 0
	}

	w := models.FetchWindow{Symbol: symbol, Start: cursor, End: now}
	for _, chunk := range w.Split(c.maxChunk) {
		if ctx.Err() != nil {
			return total, 0
		}
		out, err := c.worker.process(ctx, chunk, nil)
		total.Fetched += out.Fetched
		total.Invalid += out.Invalid
		if err != nil {
			if ctx.Err() != nil {
				return total, 0
			}
			return total, 1
		}
		total.Inserted += out.Inserted

		if err := c.cursors.Advance(ctx, feed, symbol, chunk.End); err != nil {
			c.worker.metrics.RecordWindowFailure(feed.String(), StageCursor)
			c.worker.logger.Error("advance cursor failed",
				logger.String("symbol", symbol),
				logger.Time("to", chunk.End),
				logger.Error(err))
			return total, 1
		}
		c.worker.metrics.SetCursorLag(feed.String(), symbol, now.Sub(chunk.End).Seconds())
	}
	return total, 0
}

// startingCursor prefers the stored cursor, then the newest stored record,
// then now minus the initial lookback.
func (c *CollectorLoop) startingCursor(ctx context.Context, symbol string, now time.Time) (time.Time, error) {
	feed := c.worker.feed.Type()
	at, ok, err := c.cursors.Get(ctx, feed, symbol)
	if err != nil {
		return time.Time{}, fmt.Errorf("get cursor: %w", err)
	}
	if ok {
		return at.UTC(), nil
	}
	latest, err := c.worker.store.MaxOccurredAt(ctx, feed, symbol)
	if err != nil {
		return time.Time{}, fmt.Errorf("max occurred_at: %w", err)
	}
	if latest != nil {
		return latest.UTC(), nil
	}
	return now.Add(-c.lookback), nil
}
