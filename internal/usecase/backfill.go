package usecase

import (
	"context"
	"errors"
	"time"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	"MarketSync/pkg/logger"
)

// BackfillOption configures BackfillOrchestrator.
type BackfillOption func(*BackfillOrchestrator)

// WithMaxChunk bounds the size of every fetched sub-window.
func WithMaxChunk(d time.Duration) BackfillOption {
	return func(b *BackfillOrchestrator) { b.maxChunk = d }
}

// WithChunkPause sets the sleep between consecutive chunks.
func WithChunkPause(d time.Duration) BackfillOption {
	return func(b *BackfillOrchestrator) { b.pause = d }
}

// WithBackfillSleeper replaces the context-aware sleep between chunks.
func WithBackfillSleeper(fn func(ctx context.Context, d time.Duration) error) BackfillOption {
	return func(b *BackfillOrchestrator) { b.sleep = fn }
}

// BackfillOrchestrator fills the gaps of one feed chunk by chunk. A failed
// chunk stays a gap and is picked up by the next run.
type BackfillOrchestrator struct {
	worker   windowWorker
	gaps     *GapAnalyzer
	maxChunk time.Duration
	pause    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewBackfillOrchestrator(
	feed repository.Feed,
	fetcher WindowFetcher,
	store repository.Store,
	gaps *GapAnalyzer,
	pub repository.Publisher,
	m repository.Metrics,
	lgr *logger.Logger,
	opts ...BackfillOption,
) *BackfillOrchestrator {
	b := &BackfillOrchestrator{
		worker:   newWindowWorker(feed, fetcher, store, pub, m, lgr),
		gaps:     gaps,
		maxChunk: 4 * time.Hour,
		pause:    time.Second,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run fills the gaps GapAnalyzer finds for each symbol inside r.
func (b *BackfillOrchestrator) Run(ctx context.Context, symbols []string, r models.TimeRange) (*models.BackfillReport, error) {
	return b.run(ctx, symbols, r, false)
}

// Refetch fetches all of r for each symbol, skipping gap detection.
func (b *BackfillOrchestrator) Refetch(ctx context.Context, symbols []string, r models.TimeRange) (*models.BackfillReport, error) {
	return b.run(ctx, symbols, r, true)
}

func (b *BackfillOrchestrator) run(ctx context.Context, symbols []string, r models.TimeRange, explicit bool) (*models.BackfillReport, error) {
	feed := b.worker.feed.Type()
	report := &models.BackfillReport{Feed: feed, PerSymbol: make(map[string]int, len(symbols))}
	if !r.Valid() {
		return report, models.ErrEmptyWindow
	}
	lgr := b.worker.logger.With(
		logger.Time("from", r.From),
		logger.Time("to", r.To),
		logger.Bool("explicit", explicit))
	started := time.Now()

	chunksRun := 0
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.PerSymbol[symbol] = 0

		windows, err := b.windowsFor(ctx, symbol, r, explicit)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return report, err
			}
			report.FailedChunks++
			b.worker.metrics.RecordWindowFailure(feed.String(), StageGaps)
			lgr.Error("gap detection failed", logger.String("symbol", symbol), logger.Error(err))
			continue
		}
		report.Windows += len(windows)

		for _, w := range windows {
			for _, chunk := range w.Split(b.maxChunk) {
				if err := ctx.Err(); err != nil {
					return report, err
				}
				if chunksRun > 0 {
					if err := b.sleep(ctx, b.pause); err != nil {
						return report, err
					}
				}
				chunksRun++
				report.Chunks++

				out, err := b.worker.process(ctx, chunk, nil)
				report.Fetched += out.Fetched
				report.Invalid += out.Invalid
				if err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return report, ctxErr
					}
					report.FailedChunks++
					continue
				}
				report.Inserted += out.Inserted
				report.PerSymbol[symbol] += out.Inserted
			}
		}
	}

	lgr.Info("backfill complete",
		logger.Int("symbols", len(symbols)),
		logger.Int("windows", report.Windows),
		logger.Int("chunks", report.Chunks),
		logger.Int("fetched", report.Fetched),
		logger.Int("inserted", report.Inserted),
		logger.Int("skipped_invalid", report.Invalid),
		logger.Int("failed_chunks", report.FailedChunks),
		logger.Duration("duration_ms", time.Since(started)))
	return report, nil
}

func (b *BackfillOrchestrator) windowsFor(ctx context.Context, symbol string, r models.TimeRange, explicit bool) ([]models.FetchWindow, error) {
	if explicit {
		w, err := r.Window(symbol)
		if err != nil {
			return nil, err
		}
		return []models.FetchWindow{w}, nil
	}
	return b.gaps.FindGaps(ctx, b.worker.feed.Type(), symbol, r)
}
