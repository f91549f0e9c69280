package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	pkgch "MarketSync/pkg/clickhouse"
	"MarketSync/pkg/logger"
)

// ClickHouseStore keeps one ReplacingMergeTree table per feed ordered by
// identity. Known identities are filtered before insert so the returned
// count only covers new rows; merges collapse any copies that race in.
type ClickHouseStore struct {
	db     *sql.DB
	prefix string
	logger *logger.Logger
	// writes are serialized so the identity pre-check stays meaningful.
	mu sync.Mutex
}

var _ repository.Store = (*ClickHouseStore)(nil)

func NewClickHouseStore(ch *pkgch.Client, tablePrefix string, lgr *logger.Logger) *ClickHouseStore {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &ClickHouseStore{db: ch.DB(), prefix: tablePrefix, logger: lgr}
}

func (s *ClickHouseStore) table(feed models.FeedType) string {
	return "`" + strings.ReplaceAll(s.prefix+string(feed), "`", "") + "`"
}

// SchemaStatements returns the DDL for the given feeds.
func (s *ClickHouseStore) SchemaStatements(feeds ...models.FeedType) []string {
	stmts := make([]string, 0, len(feeds))
	for _, feed := range feeds {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			identity     String,
			symbol       LowCardinality(String),
			occurred_at  DateTime64(3, 'UTC'),
			payload      String,
			collected_at DateTime64(3, 'UTC')
		) ENGINE = ReplacingMergeTree(collected_at)
		PARTITION BY toYYYYMM(occurred_at)
		ORDER BY (symbol, identity)`, s.table(feed)))
	}
	return stmts
}

// UpsertMany inserts the records whose identity is not stored yet, as a
// single INSERT block.
func (s *ClickHouseStore) UpsertMany(ctx context.Context, feed models.FeedType, records []models.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.existing(ctx, feed, records)
	if err != nil {
		return 0, err
	}

	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*5)
	batchSeen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if _, ok := existing[r.Identity]; ok {
			continue
		}
		if _, ok := batchSeen[r.Identity]; ok {
			continue
		}
		batchSeen[r.Identity] = struct{}{}
		values = append(values, "(?, ?, ?, ?, ?)")
		args = append(args, r.Identity, r.Symbol, r.OccurredAt.UTC(), string(r.Payload), r.CollectedAt.UTC())
	}
	if len(values) == 0 {
		return 0, nil
	}

	q := fmt.Sprintf("INSERT INTO %s (identity, symbol, occurred_at, payload, collected_at) VALUES %s",
		s.table(feed), strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		s.logger.Error("clickhouse insert failed",
			logger.String("table", s.table(feed)),
			logger.Int("rows", len(values)),
			logger.Error(err))
		return 0, fmt.Errorf("insert into %s: %w", s.table(feed), err)
	}
	return len(values), nil
}

func (s *ClickHouseStore) existing(ctx context.Context, feed models.FeedType, records []models.Record) (map[string]struct{}, error) {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.Identity)
	}
	q := fmt.Sprintf("SELECT DISTINCT identity FROM %s WHERE identity IN (?)", s.table(feed))
	rows, err := s.db.QueryContext(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup identities: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) MaxOccurredAt(ctx context.Context, feed models.FeedType, symbol string) (*time.Time, error) {
	q := fmt.Sprintf("SELECT max(occurred_at), count() FROM %s WHERE symbol = ?", s.table(feed))
	var (
		at time.Time
		n  uint64
	)
	if err := s.db.QueryRowContext(ctx, q, symbol).Scan(&at, &n); err != nil {
		return nil, fmt.Errorf("max occurred_at: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	at = at.UTC()
	return &at, nil
}

func (s *ClickHouseStore) DistinctCoveredWindows(ctx context.Context, feed models.FeedType, symbol string, r models.TimeRange, granularity time.Duration) ([]time.Time, error) {
	secs := int64(granularity / time.Second)
	if secs <= 0 {
		return nil, fmt.Errorf("granularity %s below one second", granularity)
	}
	q := fmt.Sprintf(`
		SELECT DISTINCT toDateTime(intDiv(toUnixTimestamp(occurred_at), ?) * ?, 'UTC') AS bucket
		FROM %s
		WHERE symbol = ? AND occurred_at >= ? AND occurred_at < ?
		ORDER BY bucket`, s.table(feed))

	rows, err := s.db.QueryContext(ctx, q, secs, secs, symbol, r.From.UTC(), r.To.UTC())
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
	return out, rows.Err()
}

func (s *ClickHouseStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to pkg/clickhouse.Client.
func (s *ClickHouseStore) Close() error { return nil }
