package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	"MarketSync/pkg/logger"
)

// Pipeline bundles everything that collects one feed.
type Pipeline struct {
	Feed     repository.Feed
	Symbols  []string
	Loop     *CollectorLoop
	Backfill *BackfillOrchestrator
	Gaps     *GapAnalyzer
	Cursors  repository.CursorStore
}

// Engine routes ticks, backfills and gap queries to the per-feed pipelines.
type Engine struct {
	pipelines map[models.FeedType]*Pipeline
	order     []models.FeedType
	logger    *logger.Logger
}

func NewEngine(lgr *logger.Logger, pipelines ...*Pipeline) *Engine {
	if lgr == nil {
		lgr = logger.Nop()
	}
	e := &Engine{pipelines: make(map[models.FeedType]*Pipeline, len(pipelines)), logger: lgr}
	for _, p := range pipelines {
		kind := p.Feed.Type()
		if _, dup := e.pipelines[kind]; !dup {
			e.order = append(e.order, kind)
		}
		e.pipelines[kind] = p
	}
	return e
}

// Feeds lists the configured feeds in registration order.
func (e *Engine) Feeds() []models.FeedType {
	out := make([]models.FeedType, len(e.order))
	copy(out, e.order)
	return out
}

// Describe lists each feed with the symbols it tracks.
func (e *Engine) Describe() []models.FeedInfo {
	out := make([]models.FeedInfo, 0, len(e.order))
	for _, kind := range e.order {
		p := e.pipelines[kind]
		info := models.FeedInfo{Feed: kind, SymbolScoped: p.Feed.SymbolScoped()}
		if info.SymbolScoped {
			info.Symbols = append([]string(nil), p.Symbols...)
		}
		out = append(out, info)
	}
	return out
}

func (e *Engine) Pipeline(feed models.FeedType) (*Pipeline, error) {
	p, ok := e.pipelines[feed]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeed, feed)
	}
	return p, nil
}

// Tick runs one collection cycle for every feed. Feeds are independent; a
// feed that fails is logged and the rest still run.
func (e *Engine) Tick(ctx context.Context) ([]*models.TickReport, error) {
	reports := make([]*models.TickReport, 0, len(e.order))
	for _, kind := range e.order {
		report, err := e.pipelines[kind].Loop.Tick(ctx)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			if ctx.Err() != nil {
				return reports, err
			}
			e.logger.Error("tick failed", logger.String("feed", kind.String()), logger.Error(err))
		}
	}
	return reports, nil
}

// TickFeed runs one collection cycle for a single feed.
func (e *Engine) TickFeed(ctx context.Context, feed models.FeedType) (*models.TickReport, error) {
	p, err := e.Pipeline(feed)
	if err != nil {
		return nil, err
	}
	return p.Loop.Tick(ctx)
}

// Backfill fills gaps, or refetches the whole range when req.Explicit is set.
// Without symbols the pipeline's tracked symbols are used.
func (e *Engine) Backfill(ctx context.Context, req models.BackfillRequest) (*models.BackfillReport, error) {
	p, err := e.Pipeline(req.Feed)
	if err != nil {
		return nil, err
	}
	if !req.Range.Valid() {
		return nil, models.ErrEmptyWindow
	}
	symbols := p.symbolsFor(req.Symbols)
	if req.Explicit {
		return p.Backfill.Refetch(ctx, symbols, req.Range)
	}
	return p.Backfill.Run(ctx, symbols, req.Range)
}

// Gaps returns the missing windows per symbol for feed within r.
func (e *Engine) Gaps(ctx context.Context, feed models.FeedType, symbols []string, r models.TimeRange) (map[string][]models.FetchWindow, error) {
	p, err := e.Pipeline(feed)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]models.FetchWindow)
	var errs []error
	for _, symbol := range p.symbolsFor(symbols) {
		gaps, err := p.Gaps.FindGaps(ctx, feed, symbol, r)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
			continue
		}
		out[symbol] = gaps
	}
	return out, errors.Join(errs...)
}

// Cursors lists the collection cursors of feed ordered by symbol.
func (e *Engine) Cursors(ctx context.Context, feed models.FeedType) ([]models.Cursor, error) {
	p, err := e.Pipeline(feed)
	if err != nil {
		return nil, err
	}
	cursors, err := p.Cursors.List(ctx, feed)
	if err != nil {
		return nil, err
	}
	sort.Slice(cursors, func(i, j int) bool { return cursors[i].Symbol < cursors[j].Symbol })
	return cursors, nil
}

// TrackedSymbols returns the symbols feed is collected under. Feeds that are
// not symbol scoped are always collected under the single empty symbol.
func TrackedSymbols(feed repository.Feed, symbols []string) []string {
	if !feed.SymbolScoped() {
		return []string{""}
	}
	return symbols
}

// symbolsFor resolves requested symbols, defaulting to the tracked ones.
func (p *Pipeline) symbolsFor(requested []string) []string {
	if len(requested) == 0 {
		return TrackedSymbols(p.Feed, p.Symbols)
	}
	return TrackedSymbols(p.Feed, requested)
}
