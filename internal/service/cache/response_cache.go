package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MarketSync/internal/domain/models"
	pkgcache "MarketSync/pkg/cache"
	"MarketSync/pkg/logger"
)

const keyPrefix = "resp"

// ResponseCache memoizes fetched window results for a short TTL so that
// retries and overlapping backfills do not spend API quota twice. Losing it
// never loses data.
type ResponseCache struct {
	store  pkgcache.Service
	ttl    time.Duration
	logger *logger.Logger
}

func NewResponseCache(store pkgcache.Service, ttl time.Duration, lgr *logger.Logger) *ResponseCache {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &ResponseCache{store: store, ttl: ttl, logger: lgr}
}

// Fingerprint identifies one fetch request.
func Fingerprint(feed models.FeedType, w models.FetchWindow, page int, cursor *time.Time) string {
	c := "-"
	if cursor != nil {
		c = cursor.UTC().Format(time.RFC3339Nano)
	}
	raw := pkgcache.GenerateKeyWithParams(string(feed),
		w.Symbol,
		w.Start.UTC().Format(time.RFC3339Nano),
		w.End.UTC().Format(time.RFC3339Nano),
		page,
		c,
	)
	return pkgcache.GenerateKey(keyPrefix, pkgcache.HashKey(raw))
}

// Get returns cached records. Backend errors are logged and treated as a miss.
func (c *ResponseCache) Get(ctx context.Context, fingerprint string) ([]models.Record, bool) {
	records, err := pkgcache.GetJSON[[]models.Record](ctx, c.store, fingerprint)
	if err != nil {
		if !errors.Is(err, pkgcache.ErrCacheMiss) {
			c.logger.Warn("response cache read failed",
				logger.String("key", fingerprint),
				logger.Error(err))
		}
		return nil, false
	}
	return records, true
}

// Put stores records. Failures only cost efficiency, so they are logged.
func (c *ResponseCache) Put(ctx context.Context, fingerprint string, records []models.Record) {
	if records == nil {
		records = []models.Record{}
	}
	if err := pkgcache.SetJSON(ctx, c.store, fingerprint, records, c.ttl); err != nil {
		c.logger.Warn("response cache write failed",
			logger.String("key", fingerprint),
			logger.Error(fmt.Errorf("put: %w", err)))
	}
}
