package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"claimpricer/internal/core"
)

const pgInsertEntry = `
	INSERT INTO pricing_history (id, request_id, timestamp, provider_id, date_of_service,
		contract_id, applied_rule_id, outcome, status, allowed_amount, duration_us, claim, trace)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11, $12, $13)
	ON CONFLICT (id) DO NOTHING`

// PostgreSQLStore implements Store for PostgreSQL databases.
type PostgreSQLStore struct {
	pool          *pgxpool.Pool
	retention *sweeper
}

// NewPostgreSQLStore creates the history table if needed and starts the
// retention sweeper when retentionDays > 0.
func NewPostgreSQLStore(pool *pgxpool.Pool, retentionDays int) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pricing_history (
			id UUID PRIMARY KEY,
			request_id TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			provider_id TEXT NOT NULL,
			date_of_service TEXT NOT NULL,
			contract_id TEXT NOT NULL DEFAULT '',
			applied_rule_id TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			status TEXT NOT NULL,
			allowed_amount NUMERIC(14, 2) NOT NULL,
			duration_us BIGINT NOT NULL DEFAULT 0,
			claim JSONB,
			trace JSONB
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create pricing_history table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_history_timestamp ON pricing_history(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_history_request_id ON pricing_history(request_id)",
		"CREATE INDEX IF NOT EXISTS idx_history_outcome ON pricing_history(outcome)",
		"CREATE INDEX IF NOT EXISTS idx_history_claim_gin ON pricing_history USING GIN (claim)",
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &PostgreSQLStore{pool: pool}
	store.retention = newSweeper(retentionDays, store.purge)
	store.retention.start(sweepInterval)

	return store, nil
}

// WriteBatch inserts all entries in one transaction using a pgx batch.
func (s *PostgreSQLStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(pgInsertEntry,
			e.ID, e.RequestID, e.Timestamp, e.ProviderID, e.DateOfService,
			e.ContractID, e.AppliedRuleID, string(e.Outcome), string(e.Status),
			e.AllowedAmount, e.DurationMicro, e.Claim, e.Trace,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert %d history entries: %w", len(entries), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) Summary(ctx context.Context, since time.Time) (*Summary, error) {
	query := `SELECT outcome, COUNT(*) FROM pricing_history`
	var args []any
	if !since.IsZero() {
		query += ` WHERE timestamp >= $1`
		args = append(args, since)
	}
	query += ` GROUP BY outcome`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history summary: %w", err)
	}
	defer rows.Close()

	summary := newSummary()
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan history summary row: %w", err)
		}
		summary.add(core.Outcome(outcome), n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history summary rows: %w", err)
	}
	return summary, nil
}

// Flush is a no-op for PostgreSQL as writes are synchronous.
func (s *PostgreSQLStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the retention sweeper. The pool belongs to the storage layer.
func (s *PostgreSQLStore) Close() error {
	s.retention.close()
	return nil
}

func (s *PostgreSQLStore) purge(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.pool.Exec(ctx, "DELETE FROM pricing_history WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
