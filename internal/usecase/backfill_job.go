package usecase

import (
	"context"
	"fmt"

	"MarketSync/internal/domain/models"
	"MarketSync/pkg/logger"
	"MarketSync/pkg/queue"
)

// BackfillJobType is the queue message type for backfill requests.
const BackfillJobType = "backfill.run"

// BackfillJob runs queued backfill requests against the engine.
type BackfillJob struct {
	engine *Engine
	logger *logger.Logger
}

var _ queue.Job = (*BackfillJob)(nil)

func NewBackfillJob(engine *Engine, lgr *logger.Logger) *BackfillJob {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &BackfillJob{engine: engine, logger: lgr}
}

func (j *BackfillJob) Name() string { return "backfill" }

func (j *BackfillJob) Type() string { return BackfillJobType }

func (j *BackfillJob) Handle(ctx context.Context, payload interface{}) error {
	req, err := queue.ParsePayload[models.BackfillRequest](payload)
	if err != nil {
		return fmt.Errorf("parse backfill request: %w", err)
	}
	report, err := j.engine.Backfill(ctx, *req)
	if err != nil {
		return fmt.Errorf("backfill %s: %w", req.Feed, err)
	}
	j.logger.Info("queued backfill finished",
		logger.String("feed", req.Feed.String()),
		logger.Bool("explicit", req.Explicit),
		logger.Int("inserted", report.Inserted),
		logger.Int("failed_chunks", report.FailedChunks))
	return nil
}
