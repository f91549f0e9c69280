package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/usecase"
	xhttp "MarketSync/pkg/http"
	xlogger "MarketSync/pkg/logger"
	"MarketSync/pkg/queue"
	"MarketSync/pkg/util"
)

// Engine is what the operations API needs from the collection engine.
type Engine interface {
	Describe() []models.FeedInfo
	Gaps(ctx context.Context, feed models.FeedType, symbols []string, r models.TimeRange) (map[string][]models.FetchWindow, error)
	Cursors(ctx context.Context, feed models.FeedType) ([]models.Cursor, error)
	Backfill(ctx context.Context, req models.BackfillRequest) (*models.BackfillReport, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// OpsHandler exposes health, gap inspection, cursors and backfill triggers.
type OpsHandler struct {
	logger *xlogger.Logger
	engine Engine
	queue  queue.QueueService
	checks map[string]HealthCheck
	now    func() time.Time
}

func NewOpsHandler(logger *xlogger.Logger, engine Engine, q queue.QueueService, checks map[string]HealthCheck) *OpsHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &OpsHandler{logger: logger, engine: engine, queue: q, checks: checks, now: time.Now}
}

func (h *OpsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api")
	g.GET("/feeds", h.Feeds)
	g.GET("/gaps", h.Gaps)
	g.GET("/cursors", h.Cursors)
	g.POST("/backfill", h.Backfill)
}

func (h *OpsHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := map[string]string{}
	healthy := true
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("health check failed", xlogger.String("component", name), xlogger.Error(err))
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	if !healthy {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, status)
	}
	return xhttp.SuccessResponse(c, status)
}

func (h *OpsHandler) Feeds(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.engine.Describe())
}

func (h *OpsHandler) Gaps(c echo.Context) error {
	req := &models.GapsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	r, err := parseRange(req.From, req.To)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}

	gaps, err := h.engine.Gaps(c.Request().Context(), models.FeedType(req.Feed), util.NormalizeSymbols(util.SplitList(req.Symbol)), r)
	if err != nil {
		h.logger.Error("gaps query error", xlogger.String("feed", req.Feed), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapEngineError(err))
	}
	return xhttp.SuccessResponse(c, gaps)
}

func (h *OpsHandler) Cursors(c echo.Context) error {
	req := &models.CursorsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	cursors, err := h.engine.Cursors(c.Request().Context(), models.FeedType(req.Feed))
	if err != nil {
		h.logger.Error("cursors query error", xlogger.String("feed", req.Feed), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapEngineError(err))
	}
	return xhttp.SuccessResponse(c, cursors)
}

// Backfill queues a backfill and answers 202 with the job id, or runs it
// inline when wait is set. Queued jobs stop with the queue on shutdown.
func (h *OpsHandler) Backfill(c echo.Context) error {
	req := &models.BackfillHTTPRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	r, err := h.backfillRange(req)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	br := models.BackfillRequest{
		Feed:     models.FeedType(req.Feed),
		Symbols:  util.NormalizeSymbols(req.Symbols),
		Range:    r,
		Explicit: req.Explicit,
	}

	if req.Wait {
		report, err := h.engine.Backfill(c.Request().Context(), br)
		if err != nil {
			h.logger.Error("backfill error", xlogger.String("feed", req.Feed), xlogger.Error(err))
			return xhttp.AppErrorResponse(c, mapEngineError(err))
		}
		return xhttp.SuccessResponse(c, report)
	}

	if h.queue == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("backfill queue not configured"))
	}
	id, err := h.queue.Enqueue(c.Request().Context(), usecase.BackfillJobType, br)
	if err != nil {
		h.logger.Error("enqueue backfill", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("backfill queue unavailable").WithError(err))
	}
	h.logger.Info("backfill queued",
		xlogger.String("job_id", id),
		xlogger.String("feed", req.Feed),
		xlogger.Strings("symbols", br.Symbols))
	return xhttp.AcceptedResponse(c, models.BackfillAccepted{JobID: id})
}

func (h *OpsHandler) backfillRange(req *models.BackfillHTTPRequest) (models.TimeRange, error) {
	if req.From == "" && req.LookbackHours > 0 {
		now := h.now().UTC()
		return models.TimeRange{From: now.Add(-time.Duration(req.LookbackHours) * time.Hour), To: now}, nil
	}
	if req.To == "" {
		return parseRange(req.From, h.now().UTC().Format(time.RFC3339Nano))
	}
	return parseRange(req.From, req.To)
}

func parseRange(from, to string) (models.TimeRange, error) {
	f, ok := util.ParseTime(from)
	if !ok {
		return models.TimeRange{}, xhttp.BadRequestErrorf("invalid from %q", from)
	}
	t, ok := util.ParseTime(to)
	if !ok {
		return models.TimeRange{}, xhttp.BadRequestErrorf("invalid to %q", to)
	}
	r := models.TimeRange{From: f, To: t}
	if !r.Valid() {
		return models.TimeRange{}, xhttp.BadRequestErrorf("from must be before to")
	}
	return r, nil
}

func mapEngineError(err error) error {
	switch {
	case errors.Is(err, usecase.ErrUnknownFeed):
		return xhttp.NotFoundErrorf("%v", err)
	case errors.Is(err, models.ErrEmptyWindow):
		return xhttp.BadRequestErrorf("%v", err)
	default:
		return err
	}
}
