package refdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"claimpricer/internal/core"
)

const sqliteRuleColumns = `id, contract_id, description, rule_type, methodology, status,
	effective_start, effective_end, specificity_score, multiplier, flat_rate,
	threshold_amount, fee_schedule_id, created_at`

// SQLiteStore implements Store for SQLite databases.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the reference tables if they don't exist.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS contracts (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			product_line TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			effective_start TEXT NOT NULL,
			effective_end TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS fee_schedules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			effective_start TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fee_schedule_rates (
			fee_schedule_id TEXT NOT NULL REFERENCES fee_schedules(id) ON DELETE CASCADE,
			code TEXT NOT NULL,
			amount TEXT NOT NULL,
			PRIMARY KEY (fee_schedule_id, code)
		)`,
		`CREATE TABLE IF NOT EXISTS pricing_rules (
			id TEXT PRIMARY KEY,
			contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
			description TEXT NOT NULL DEFAULT '',
			rule_type TEXT NOT NULL,
			methodology TEXT NOT NULL,
			status TEXT NOT NULL,
			effective_start TEXT NOT NULL,
			effective_end TEXT,
			specificity_score INTEGER NOT NULL DEFAULT 0,
			multiplier TEXT,
			flat_rate TEXT,
			threshold_amount TEXT,
			fee_schedule_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pricing_rule_conditions (
			id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL REFERENCES pricing_rules(id) ON DELETE CASCADE,
			attribute TEXT NOT NULL,
			operator TEXT NOT NULL,
			value TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range tables {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create reference tables: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_contracts_org_status ON contracts(organization_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_rules_contract_score ON pricing_rules(contract_id, status, specificity_score DESC)",
		"CREATE INDEX IF NOT EXISTS idx_conditions_rule ON pricing_rule_conditions(rule_id, position)",
	}
	for _, idx := range indexes {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) FindActiveContracts(ctx context.Context, orgID string, asOf time.Time) ([]core.Contract, error) {
	day := dateString(asOf)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, product_line, status, effective_start, effective_end
		FROM contracts
		WHERE organization_id = ? AND status = ? AND effective_start <= ?
			AND (effective_end IS NULL OR effective_end >= ?)
		ORDER BY id
	`, orgID, string(core.ContractActive), day, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()
	return collectContracts(rows)
}

func (s *SQLiteStore) ListApplicableRules(ctx context.Context, contractID string, asOf time.Time) ([]core.PricingRule, error) {
	day := dateString(asOf)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteRuleColumns+`
		FROM pricing_rules
		WHERE contract_id = ? AND status = ? AND effective_start <= ?
			AND (effective_end IS NULL OR effective_end >= ?)
		ORDER BY specificity_score DESC, created_at ASC, id ASC
	`, contractID, string(core.RuleActive), day, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()
	return collectSQLiteRules(rows)
}

func (s *SQLiteStore) GetConditions(ctx context.Context, ruleID string) ([]core.Condition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, attribute, operator, value, position
		FROM pricing_rule_conditions
		WHERE rule_id = ?
		ORDER BY position, id
	`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conditions: %w", err)
	}
	defer rows.Close()

	var out []core.Condition
	for rows.Next() {
		var id, rid, attr, op, value string
		var pos int
		if err := rows.Scan(&id, &rid, &attr, &op, &value, &pos); err != nil {
			return nil, fmt.Errorf("failed to scan condition: %w", err)
		}
		c, err := conditionFromRow(id, rid, attr, op, value, pos)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetFeeScheduleRate(ctx context.Context, feeScheduleID, code string) (decimal.Decimal, error) {
	var amount string
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM fee_schedule_rates WHERE fee_schedule_id = ? AND code = ?`,
		feeScheduleID, code,
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query fee schedule rate: %w", err)
	}
	return decimal.NewFromString(amount)
}

func (s *SQLiteStore) PutContract(ctx context.Context, c core.Contract) error {
	if err := validateContract(c); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contracts (id, organization_id, name, product_line, status, effective_start, effective_end)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			organization_id = excluded.organization_id,
			name = excluded.name,
			product_line = excluded.product_line,
			status = excluded.status,
			effective_start = excluded.effective_start,
			effective_end = excluded.effective_end
	`, c.ID, c.OrganizationID, c.Name, c.ProductLine, string(c.Status),
		dateString(c.EffectiveStart), optionalDateString(c.EffectiveEnd))
	if err != nil {
		return fmt.Errorf("failed to upsert contract %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStore) PutFeeSchedule(ctx context.Context, fs core.FeeSchedule) error {
	if fs.ID == "" {
		return fmt.Errorf("fee schedule id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fee_schedules (id, name, source, effective_start)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			source = excluded.source,
			effective_start = excluded.effective_start
	`, fs.ID, fs.Name, fs.Source, dateString(fs.EffectiveStart))
	if err != nil {
		return fmt.Errorf("failed to upsert fee schedule %s: %w", fs.ID, err)
	}
	return nil
}

func (s *SQLiteStore) PutFeeScheduleRate(ctx context.Context, r core.FeeScheduleRate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fee_schedule_rates (fee_schedule_id, code, amount)
		VALUES (?, ?, ?)
		ON CONFLICT(fee_schedule_id, code) DO UPDATE SET amount = excluded.amount
	`, r.FeeScheduleID, r.Code, r.Amount.String())
	if err != nil {
		return fmt.Errorf("failed to upsert rate %s/%s: %w", r.FeeScheduleID, r.Code, err)
	}
	return nil
}

func (s *SQLiteStore) PutRule(ctx context.Context, rule core.PricingRule, conds []core.Condition) error {
	rule, conds, err := prepareRule(rule, conds)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pricing_rules (`+sqliteRuleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			contract_id = excluded.contract_id,
			description = excluded.description,
			rule_type = excluded.rule_type,
			methodology = excluded.methodology,
			status = excluded.status,
			effective_start = excluded.effective_start,
			effective_end = excluded.effective_end,
			specificity_score = excluded.specificity_score,
			multiplier = excluded.multiplier,
			flat_rate = excluded.flat_rate,
			threshold_amount = excluded.threshold_amount,
			fee_schedule_id = excluded.fee_schedule_id
	`, rule.ID, rule.ContractID, rule.Description, string(rule.Type), string(rule.Methodology),
		string(rule.Status), dateString(rule.EffectiveStart), optionalDateString(rule.EffectiveEnd),
		rule.SpecificityScore, decimalString(rule.Multiplier), decimalString(rule.FlatRate),
		decimalString(rule.ThresholdAmount), rule.FeeScheduleID, rule.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert rule %s: %w", rule.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pricing_rule_conditions WHERE rule_id = ?`, rule.ID); err != nil {
		return fmt.Errorf("failed to clear conditions for %s: %w", rule.ID, err)
	}
	for _, c := range conds {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pricing_rule_conditions (id, rule_id, attribute, operator, value, position)
			VALUES (?, ?, ?, ?, ?, ?)
		`, c.ID, c.RuleID, c.Attribute, string(c.Operator), c.Value, c.Position)
		if err != nil {
			return fmt.Errorf("failed to insert condition %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule %s: %w", rule.ID, err)
	}
	return nil
}

func (s *SQLiteStore) SetScore(ctx context.Context, ruleID string, score int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE pricing_rules SET specificity_score = ? WHERE id = ?`, score, ruleID)
	if err != nil {
		return fmt.Errorf("failed to update score for %s: %w", ruleID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %s: %w", ruleID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	for _, table := range []string{"pricing_rule_conditions", "pricing_rules", "fee_schedule_rates", "fee_schedules", "contracts"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetContract(ctx context.Context, id string) (core.Contract, error) {
	var row contractRow
	err := row.scan(s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, product_line, status, effective_start, effective_end
		FROM contracts WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Contract{}, ErrNotFound
	}
	if err != nil {
		return core.Contract{}, fmt.Errorf("failed to query contract %s: %w", id, err)
	}
	return row.toContract()
}

func (s *SQLiteStore) ListContracts(ctx context.Context) ([]core.Contract, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, product_line, status, effective_start, effective_end
		FROM contracts ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()
	return collectContracts(rows)
}

func (s *SQLiteStore) ListRules(ctx context.Context, contractID string) ([]core.PricingRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteRuleColumns+`
		FROM pricing_rules
		WHERE contract_id = ?
		ORDER BY specificity_score DESC, created_at ASC, id ASC
	`, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()
	return collectSQLiteRules(rows)
}

// Close is a no-op; the connection belongs to the storage layer.
func (s *SQLiteStore) Close() error {
	return nil
}

func collectContracts(rows *sql.Rows) ([]core.Contract, error) {
	var out []core.Contract
	for rows.Next() {
		var row contractRow
		if err := row.scan(rows); err != nil {
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		c, err := row.toContract()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func collectSQLiteRules(rows *sql.Rows) ([]core.PricingRule, error) {
	var out []core.PricingRule
	for rows.Next() {
		var row ruleRow
		var createdAt int64
		if err := rows.Scan(&row.id, &row.contractID, &row.description, &row.ruleType, &row.methodology,
			&row.status, &row.effectiveStart, &row.effectiveEnd, &row.score, &row.multiplier,
			&row.flatRate, &row.threshold, &row.feeScheduleID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		row.createdAt = time.Unix(0, createdAt).UTC()
		r, err := row.toRule()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
