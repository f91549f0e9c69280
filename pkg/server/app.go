package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"MarketSync/internal/domain/models"
	xhttp "MarketSync/pkg/http"
	"MarketSync/pkg/logger"
	"MarketSync/pkg/queue"
)

// Engine is the part of the collection engine the scheduler drives.
type Engine interface {
	Feeds() []models.FeedType
	Tick(ctx context.Context) ([]*models.TickReport, error)
	Backfill(ctx context.Context, req models.BackfillRequest) (*models.BackfillReport, error)
}

// Resource is closed on shutdown, in reverse registration order.
type Resource struct {
	Name  string
	Close func() error
}

// Schedule controls the background loops of serve.
type Schedule struct {
	TickInterval     time.Duration
	BackfillInterval time.Duration
	BackfillLookback time.Duration
	ShutdownTimeout  time.Duration
}

// App encapsulates the entire application lifecycle.
type App struct {
	schedule  Schedule
	logger    *logger.Logger
	engine    Engine
	queue     queue.Runner
	http      *xhttp.Server
	resources []Resource
	now       func() time.Time

	backfilling atomic.Bool
}

func New(schedule Schedule, lgr *logger.Logger, engine Engine, q queue.Runner, srv *xhttp.Server, resources ...Resource) *App {
	if lgr == nil {
		lgr = logger.Nop()
	}
	if schedule.ShutdownTimeout <= 0 {
		schedule.ShutdownTimeout = 15 * time.Second
	}
	return &App{
		schedule:  schedule,
		logger:    lgr,
		engine:    engine,
		queue:     q,
		http:      srv,
		resources: resources,
		now:       time.Now,
	}
}

// Run starts the queue workers, the HTTP server and the scheduler, and
// blocks until ctx is cancelled. Everything is then shut down.
func (a *App) Run(ctx context.Context) error {
	if a.queue != nil {
		if err := a.queue.Start(ctx); err != nil {
			a.closeResources()
			return err
		}
	}
	if a.http != nil {
		if err := a.http.Start(); err != nil {
			a.closeResources()
			return err
		}
	}

	a.logger.Info("scheduler started",
		logger.Duration("tick_interval", a.schedule.TickInterval),
		logger.Duration("backfill_interval", a.schedule.BackfillInterval))
	a.RunScheduler(ctx)

	a.logger.Info("shutdown signal received")
	return a.shutdown()
}

// RunScheduler ticks immediately and then every TickInterval; with a
// positive BackfillInterval it also fills recent gaps of every feed in the
// background, one pass at a time. It returns when ctx is cancelled and the
// running pass has stopped.
func (a *App) RunScheduler(ctx context.Context) {
	interval := a.schedule.TickInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var backfillC <-chan time.Time
	if a.schedule.BackfillInterval > 0 {
		bt := time.NewTicker(a.schedule.BackfillInterval)
		defer bt.Stop()
		backfillC = bt.C
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	a.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		case <-backfillC:
			if !a.backfilling.CompareAndSwap(false, true) {
				a.logger.Debug("periodic backfill still running, skipping")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer a.backfilling.Store(false)
				a.backfillRecent(ctx)
			}()
		}
	}
}

func (a *App) tick(ctx context.Context) {
	start := time.Now()
	reports, err := a.engine.Tick(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("tick failed", logger.Error(err))
	}
	for _, r := range reports {
		if r.Skipped {
			a.logger.Debug("feed inactive",
				logger.String("feed", r.Feed.String()),
				logger.Time("next_active", r.NextActive))
			continue
		}
		a.logger.Info("tick complete",
			logger.String("feed", r.Feed.String()),
			logger.Int("fetched", r.Fetched),
			logger.Int("inserted", r.Inserted),
			logger.Int("failed_windows", r.FailedWindows),
			logger.Duration("elapsed", time.Since(start)))
	}
}

func (a *App) backfillRecent(ctx context.Context) {
	lookback := a.schedule.BackfillLookback
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	now := a.now().UTC()
	r := models.TimeRange{From: now.Add(-lookback), To: now}
	for _, feed := range a.engine.Feeds() {
		if ctx.Err() != nil {
			return
		}
		if _, err := a.engine.Backfill(ctx, models.BackfillRequest{Feed: feed, Range: r}); err != nil && ctx.Err() == nil {
			a.logger.Error("periodic backfill failed", logger.String("feed", feed.String()), logger.Error(err))
		}
	}
}

// shutdown stops intake first, then closes clients.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.schedule.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.http != nil {
		if err := a.http.Stop(ctx); err != nil {
			a.logger.Error("http shutdown error", logger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			a.logger.Warn("queue stop error", logger.Error(err))
			errs = append(errs, err)
		}
	}
	errs = append(errs, a.closeResources()...)
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeResources() []error {
	var errs []error
	for i := len(a.resources) - 1; i >= 0; i-- {
		res := a.resources[i]
		if res.Close == nil {
			continue
		}
		if err := res.Close(); err != nil {
			a.logger.Warn("close error", logger.String("resource", res.Name), logger.Error(err))
			errs = append(errs, err)
		}
	}
	return errs
}
