package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	"MarketSync/pkg/logger"
)

// PostgresStore keeps one table per feed with identity as primary key.
// Conflicting identities are ignored, which makes every write idempotent.
type PostgresStore struct {
	pool   *pgxpool.Pool
	prefix string
	logger *logger.Logger
}

var _ repository.Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool, tablePrefix string, lgr *logger.Logger) *PostgresStore {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &PostgresStore{pool: pool, prefix: tablePrefix, logger: lgr}
}

func (s *PostgresStore) table(feed models.FeedType) string {
	return pgx.Identifier{s.prefix + string(feed)}.Sanitize()
}

// schemaStatements returns the DDL for one feed table.
func (s *PostgresStore) schemaStatements(feed models.FeedType) []string {
	t := s.table(feed)
	idx := pgx.Identifier{s.prefix + string(feed) + "_symbol_occurred_idx"}.Sanitize()
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			identity     TEXT PRIMARY KEY,
			symbol       TEXT NOT NULL DEFAULT '',
			occurred_at  TIMESTAMPTZ NOT NULL,
			payload      JSONB NOT NULL,
			collected_at TIMESTAMPTZ NOT NULL
		)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (symbol, occurred_at)`, idx, t),
	}
}

// EnsureSchema creates the tables for feeds when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context, feeds ...models.FeedType) error {
	for _, feed := range feeds {
		for _, stmt := range s.schemaStatements(feed) {
			if _, err := s.pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("ensure schema for %s: %w", feed, err)
			}
		}
	}
	return nil
}

func (s *PostgresStore) upsertSQL(feed models.FeedType) string {
	return fmt.Sprintf(`
		INSERT INTO %s (identity, symbol, occurred_at, payload, collected_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (identity) DO NOTHING
	`, s.table(feed))
}

// UpsertMany writes records in one transaction and returns how many were new.
func (s *PostgresStore) UpsertMany(ctx context.Context, feed models.FeedType, records []models.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	start := time.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := s.upsertSQL(feed)
	batch := &pgx.Batch{}
	for _, r := range records {
		payload := r.Payload
		if len(payload) == 0 {
			payload = []byte("{}")
		}
		batch.Queue(q, r.Identity, r.Symbol, r.OccurredAt.UTC(), string(payload), r.CollectedAt.UTC())
	}

	results := tx.SendBatch(ctx, batch)
	inserted := 0
	for range records {
		ct, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return 0, fmt.Errorf("insert into %s: %w", s.table(feed), err)
		}
		inserted += int(ct.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("upserted records",
		logger.String("feed", feed.String()),
		logger.Int("count", len(records)),
		logger.Int("inserted", inserted),
		logger.Duration("duration_ms", time.Since(start)))
	return inserted, nil
}

func (s *PostgresStore) MaxOccurredAt(ctx context.Context, feed models.FeedType, symbol string) (*time.Time, error) {
	q := fmt.Sprintf(`SELECT max(occurred_at) FROM %s WHERE symbol = $1`, s.table(feed))
	var at *time.Time
	if err := s.pool.QueryRow(ctx, q, symbol).Scan(&at); err != nil {
		return nil, fmt.Errorf("max occurred_at: %w", err)
	}
	if at != nil {
		utc := at.UTC()
		at = &utc
	}
	return at, nil
}

// DistinctCoveredWindows floors occurred_at to epoch-aligned buckets of
// granularity, matching time.Truncate on UTC instants.
func (s *PostgresStore) DistinctCoveredWindows(ctx context.Context, feed models.FeedType, symbol string, r models.TimeRange, granularity time.Duration) ([]time.Time, error) {
	q := fmt.Sprintf(`
		SELECT DISTINCT to_timestamp(floor(extract(epoch FROM occurred_at) / $4) * $4) AS bucket
		FROM %s
		WHERE symbol = $1 AND occurred_at >= $2 AND occurred_at < $3
		ORDER BY bucket
	`, s.table(feed))

	rows, err := s.pool.Query(ctx, q, symbol, r.From.UTC(), r.To.UTC(), granularity.Seconds())
	if err != nil {
		return nil, fmt.Errorf("covered windows: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var b time.Time
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		out = append(out, b.UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
