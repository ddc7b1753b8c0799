package refdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"claimpricer/internal/core"
)

// Dates and numerics are selected as text and bound as text so values
// round-trip exactly through decimal.Decimal.
const pgRuleSelect = `SELECT id, contract_id, description, rule_type, methodology, status,
	effective_start::text, effective_end::text, specificity_score, multiplier::text,
	flat_rate::text, threshold_amount::text, fee_schedule_id, created_at
	FROM pricing_rules`

const pgContractSelect = `SELECT id, organization_id, name, product_line, status,
	effective_start::text, effective_end::text
	FROM contracts`

// PostgreSQLStore implements Store for PostgreSQL databases.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLStore creates the reference tables if they don't exist.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS contracts (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			product_line TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			effective_start DATE NOT NULL,
			effective_end DATE
		)`,
		`CREATE TABLE IF NOT EXISTS fee_schedules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			effective_start DATE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fee_schedule_rates (
			fee_schedule_id TEXT NOT NULL REFERENCES fee_schedules(id) ON DELETE CASCADE,
			code TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			PRIMARY KEY (fee_schedule_id, code)
		)`,
		`CREATE TABLE IF NOT EXISTS pricing_rules (
			id TEXT PRIMARY KEY,
			contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
			description TEXT NOT NULL DEFAULT '',
			rule_type TEXT NOT NULL,
			methodology TEXT NOT NULL,
			status TEXT NOT NULL,
			effective_start DATE NOT NULL,
			effective_end DATE,
			specificity_score INTEGER NOT NULL DEFAULT 0,
			multiplier NUMERIC,
			flat_rate NUMERIC,
			threshold_amount NUMERIC,
			fee_schedule_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
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
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create reference tables: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_contracts_org_status ON contracts(organization_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_rules_contract_score ON pricing_rules(contract_id, status, specificity_score DESC)",
		"CREATE INDEX IF NOT EXISTS idx_conditions_rule ON pricing_rule_conditions(rule_id, position)",
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	return &PostgreSQLStore{pool: pool}, nil
}

func (s *PostgreSQLStore) FindActiveContracts(ctx context.Context, orgID string, asOf time.Time) ([]core.Contract, error) {
	rows, err := s.pool.Query(ctx, pgContractSelect+`
		WHERE organization_id = $1 AND status = $2 AND effective_start <= $3::date
			AND (effective_end IS NULL OR effective_end >= $3::date)
		ORDER BY id
	`, orgID, string(core.ContractActive), dateString(asOf))
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()
	return collectPGContracts(rows)
}

func (s *PostgreSQLStore) ListApplicableRules(ctx context.Context, contractID string, asOf time.Time) ([]core.PricingRule, error) {
	rows, err := s.pool.Query(ctx, pgRuleSelect+`
		WHERE contract_id = $1 AND status = $2 AND effective_start <= $3::date
			AND (effective_end IS NULL OR effective_end >= $3::date)
		ORDER BY specificity_score DESC, created_at ASC, id ASC
	`, contractID, string(core.RuleActive), dateString(asOf))
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()
	return collectPGRules(rows)
}

func (s *PostgreSQLStore) GetConditions(ctx context.Context, ruleID string) ([]core.Condition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, rule_id, attribute, operator, value, position
		FROM pricing_rule_conditions
		WHERE rule_id = $1
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

func (s *PostgreSQLStore) GetFeeScheduleRate(ctx context.Context, feeScheduleID, code string) (decimal.Decimal, error) {
	var amount string
	err := s.pool.QueryRow(ctx,
		`SELECT amount::text FROM fee_schedule_rates WHERE fee_schedule_id = $1 AND code = $2`,
		feeScheduleID, code,
	).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query fee schedule rate: %w", err)
	}
	return decimal.NewFromString(amount)
}

func (s *PostgreSQLStore) PutContract(ctx context.Context, c core.Contract) error {
	if err := validateContract(c); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO contracts (id, organization_id, name, product_line, status, effective_start, effective_end)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7::date)
		ON CONFLICT (id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			name = EXCLUDED.name,
			product_line = EXCLUDED.product_line,
			status = EXCLUDED.status,
			effective_start = EXCLUDED.effective_start,
			effective_end = EXCLUDED.effective_end
	`, c.ID, c.OrganizationID, c.Name, c.ProductLine, string(c.Status),
		dateString(c.EffectiveStart), optionalDateString(c.EffectiveEnd))
	if err != nil {
		return fmt.Errorf("failed to upsert contract %s: %w", c.ID, err)
	}
	return nil
}

func (s *PostgreSQLStore) PutFeeSchedule(ctx context.Context, fs core.FeeSchedule) error {
	if fs.ID == "" {
		return fmt.Errorf("fee schedule id is required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fee_schedules (id, name, source, effective_start)
		VALUES ($1, $2, $3, $4::date)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			source = EXCLUDED.source,
			effective_start = EXCLUDED.effective_start
	`, fs.ID, fs.Name, fs.Source, dateString(fs.EffectiveStart))
	if err != nil {
		return fmt.Errorf("failed to upsert fee schedule %s: %w", fs.ID, err)
	}
	return nil
}

func (s *PostgreSQLStore) PutFeeScheduleRate(ctx context.Context, r core.FeeScheduleRate) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fee_schedule_rates (fee_schedule_id, code, amount)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (fee_schedule_id, code) DO UPDATE SET amount = EXCLUDED.amount
	`, r.FeeScheduleID, r.Code, r.Amount.String())
	if err != nil {
		return fmt.Errorf("failed to upsert rate %s/%s: %w", r.FeeScheduleID, r.Code, err)
	}
	return nil
}

func (s *PostgreSQLStore) PutRule(ctx context.Context, rule core.PricingRule, conds []core.Condition) error {
	rule, conds, err := prepareRule(rule, conds)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO pricing_rules (id, contract_id, description, rule_type, methodology, status,
			effective_start, effective_end, specificity_score, multiplier, flat_rate,
			threshold_amount, fee_schedule_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::date, $8::date, $9, $10::numeric, $11::numeric,
			$12::numeric, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			contract_id = EXCLUDED.contract_id,
			description = EXCLUDED.description,
			rule_type = EXCLUDED.rule_type,
			methodology = EXCLUDED.methodology,
			status = EXCLUDED.status,
			effective_start = EXCLUDED.effective_start,
			effective_end = EXCLUDED.effective_end,
			specificity_score = EXCLUDED.specificity_score,
			multiplier = EXCLUDED.multiplier,
			flat_rate = EXCLUDED.flat_rate,
			threshold_amount = EXCLUDED.threshold_amount,
			fee_schedule_id = EXCLUDED.fee_schedule_id
	`, rule.ID, rule.ContractID, rule.Description, string(rule.Type), string(rule.Methodology),
		string(rule.Status), dateString(rule.EffectiveStart), optionalDateString(rule.EffectiveEnd),
		rule.SpecificityScore, decimalString(rule.Multiplier), decimalString(rule.FlatRate),
		decimalString(rule.ThresholdAmount), rule.FeeScheduleID, rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert rule %s: %w", rule.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM pricing_rule_conditions WHERE rule_id = $1`, rule.ID); err != nil {
		return fmt.Errorf("failed to clear conditions for %s: %w", rule.ID, err)
	}

	batch := &pgx.Batch{}
	for _, c := range conds {
		batch.Queue(`
			INSERT INTO pricing_rule_conditions (id, rule_id, attribute, operator, value, position)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, c.ID, c.RuleID, c.Attribute, string(c.Operator), c.Value, c.Position)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert conditions for %s: %w", rule.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rule %s: %w", rule.ID, err)
	}
	return nil
}

func (s *PostgreSQLStore) SetScore(ctx context.Context, ruleID string, score int) error {
	tag, err := s.pool.Exec(ctx, `UPDATE pricing_rules SET specificity_score = $1 WHERE id = $2`, score, ruleID)
	if err != nil {
		return fmt.Errorf("failed to update score for %s: %w", ruleID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %s: %w", ruleID, ErrNotFound)
	}
	return nil
}

func (s *PostgreSQLStore) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE pricing_rule_conditions, pricing_rules, fee_schedule_rates, fee_schedules, contracts`)
	if err != nil {
		return fmt.Errorf("failed to reset reference data: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) GetContract(ctx context.Context, id string) (core.Contract, error) {
	var row contractRow
	err := row.scan(s.pool.QueryRow(ctx, pgContractSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Contract{}, ErrNotFound
	}
	if err != nil {
		return core.Contract{}, fmt.Errorf("failed to query contract %s: %w", id, err)
	}
	return row.toContract()
}

func (s *PostgreSQLStore) ListContracts(ctx context.Context) ([]core.Contract, error) {
	rows, err := s.pool.Query(ctx, pgContractSelect+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()
	return collectPGContracts(rows)
}

func (s *PostgreSQLStore) ListRules(ctx context.Context, contractID string) ([]core.PricingRule, error) {
	rows, err := s.pool.Query(ctx, pgRuleSelect+`
		WHERE contract_id = $1
		ORDER BY specificity_score DESC, created_at ASC, id ASC
	`, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()
	return collectPGRules(rows)
}

// Close is a no-op; the pool belongs to the storage layer.
func (s *PostgreSQLStore) Close() error {
	return nil
}

func collectPGContracts(rows pgx.Rows) ([]core.Contract, error) {
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

func collectPGRules(rows pgx.Rows) ([]core.PricingRule, error) {
	var out []core.PricingRule
	for rows.Next() {
		var row ruleRow
		if err := rows.Scan(&row.id, &row.contractID, &row.description, &row.ruleType, &row.methodology,
			&row.status, &row.effectiveStart, &row.effectiveEnd, &row.score, &row.multiplier,
			&row.flatRate, &row.threshold, &row.feeScheduleID, &row.createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		row.createdAt = row.createdAt.UTC()
		r, err := row.toRule()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
