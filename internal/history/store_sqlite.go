package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"claimpricer/internal/core"
)

// SQLite allows 999 bound parameters per statement.
const (
	maxSQLiteParams     = 999
	columnsPerEntry     = 13
	maxEntriesPerInsert = maxSQLiteParams / columnsPerEntry
)

// sqliteTimeLayout is fixed-width so timestamps compare correctly as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore implements Store for SQLite databases.
type SQLiteStore struct {
	db            *sql.DB
	retention *sweeper
}

// NewSQLiteStore creates the history table if needed and starts the
// retention sweeper when retentionDays > 0.
func NewSQLiteStore(db *sql.DB, retentionDays int) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pricing_history (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			date_of_service TEXT NOT NULL,
			contract_id TEXT NOT NULL DEFAULT '',
			applied_rule_id TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			status TEXT NOT NULL,
			allowed_amount TEXT NOT NULL,
			duration_us INTEGER NOT NULL DEFAULT 0,
			claim JSON,
			trace JSON
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create pricing_history table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_history_timestamp ON pricing_history(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_history_request_id ON pricing_history(request_id)",
		"CREATE INDEX IF NOT EXISTS idx_history_outcome ON pricing_history(outcome)",
		"CREATE INDEX IF NOT EXISTS idx_history_contract_id ON pricing_history(contract_id)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &SQLiteStore{db: db}
	store.retention = newSweeper(retentionDays, store.purge)
	store.retention.start(sweepInterval)

	return store, nil
}

// WriteBatch inserts entries in chunks that fit the parameter limit.
func (s *SQLiteStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	for i := 0; i < len(entries); i += maxEntriesPerInsert {
		end := min(i+maxEntriesPerInsert, len(entries))
		chunk := entries[i:end]

		placeholders := make([]string, len(chunk))
		values := make([]any, 0, len(chunk)*columnsPerEntry)
		for j, e := range chunk {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			values = append(values,
				e.ID,
				e.RequestID,
				e.Timestamp.UTC().Format(sqliteTimeLayout),
				e.ProviderID,
				e.DateOfService,
				e.ContractID,
				e.AppliedRuleID,
				string(e.Outcome),
				string(e.Status),
				e.AllowedAmount,
				e.DurationMicro,
				marshalJSON(e.Claim, e.ID),
				marshalJSON(e.Trace, e.ID),
			)
		}

		query := `INSERT OR IGNORE INTO pricing_history (id, request_id, timestamp, provider_id,
			date_of_service, contract_id, applied_rule_id, outcome, status, allowed_amount,
			duration_us, claim, trace) VALUES ` + strings.Join(placeholders, ",")

		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert history batch %d: %w", i/maxEntriesPerInsert, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Summary(ctx context.Context, since time.Time) (*Summary, error) {
	query := `SELECT outcome, COUNT(*) FROM pricing_history`
	var args []any
	if !since.IsZero() {
		query += ` WHERE timestamp >= ?`
		args = append(args, since.UTC().Format(sqliteTimeLayout))
	}
	query += ` GROUP BY outcome`

	rows, err := s.db.QueryContext(ctx, query, args...)
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

// Flush is a no-op for SQLite as writes are synchronous.
func (s *SQLiteStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the retention sweeper. The DB belongs to the storage layer.
func (s *SQLiteStore) Close() error {
	s.retention.close()
	return nil
}

func (s *SQLiteStore) purge(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM pricing_history WHERE timestamp < ?",
		cutoff.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// marshalJSON encodes a JSON column. Nil becomes SQL NULL.
func marshalJSON(v any, entryID string) any {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("failed to marshal history column", "error", err, "id", entryID)
		return "{}"
	}
	if string(data) == "null" {
		return nil
	}
	return string(data)
}
