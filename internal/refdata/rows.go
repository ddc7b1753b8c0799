package refdata

import (
	"fmt"
	"time"

	"claimpricer/internal/core"
)

// rowScanner is satisfied by *sql.Row, *sql.Rows and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// contractRow is the column layout shared by the SQL stores. Dates travel
// as YYYY-MM-DD text.
type contractRow struct {
	id             string
	organizationID string
	name           string
	productLine    string
	status         string
	effectiveStart string
	effectiveEnd   *string
}

func (r *contractRow) scan(s rowScanner) error {
	return s.Scan(&r.id, &r.organizationID, &r.name, &r.productLine, &r.status, &r.effectiveStart, &r.effectiveEnd)
}

func (r contractRow) toContract() (core.Contract, error) {
	status, err := core.ParseContractStatus(r.status)
	if err != nil {
		return core.Contract{}, fmt.Errorf("contract %s: %w", r.id, err)
	}
	start, err := core.ParseDate(r.effectiveStart)
	if err != nil {
		return core.Contract{}, fmt.Errorf("contract %s effective_start: %w", r.id, err)
	}
	end, err := parseOptionalDate(r.effectiveEnd)
	if err != nil {
		return core.Contract{}, fmt.Errorf("contract %s effective_end: %w", r.id, err)
	}
	return core.Contract{
		ID:             r.id,
		OrganizationID: r.organizationID,
		Name:           r.name,
		ProductLine:    r.productLine,
		Status:         status,
		EffectiveStart: start,
		EffectiveEnd:   end,
	}, nil
}

// ruleRow mirrors pricing_rules. Decimals travel as text so no precision is
// lost through the driver.
type ruleRow struct {
	id             string
	contractID     string
	description    string
	ruleType       string
	methodology    string
	status         string
	effectiveStart string
	effectiveEnd   *string
	score          int
	multiplier     *string
	flatRate       *string
	threshold      *string
	feeScheduleID  string
	createdAt      time.Time
}

func (r ruleRow) toRule() (core.PricingRule, error) {
	rt, err := core.ParseRuleType(r.ruleType)
	if err != nil {
		return core.PricingRule{}, fmt.Errorf("rule %s: %w", r.id, err)
	}
	m, err := core.ParseMethodology(r.methodology)
	if err != nil {
		return core.PricingRule{}, fmt.Errorf("rule %s: %w", r.id, err)
	}
	st, err := core.ParseRuleStatus(r.status)
	if err != nil {
		return core.PricingRule{}, fmt.Errorf("rule %s: %w", r.id, err)
	}
	start, err := core.ParseDate(r.effectiveStart)
	if err != nil {
		return core.PricingRule{}, fmt.Errorf("rule %s effective_start: %w", r.id, err)
	}
	end, err := parseOptionalDate(r.effectiveEnd)
	if err != nil {
		return core.PricingRule{}, fmt.Errorf("rule %s effective_end: %w", r.id, err)
	}
	rule := core.PricingRule{
		ID:               r.id,
		ContractID:       r.contractID,
		Description:      r.description,
		Type:             rt,
		Methodology:      m,
		Status:           st,
		EffectiveStart:   start,
		EffectiveEnd:     end,
		SpecificityScore: r.score,
		FeeScheduleID:    r.feeScheduleID,
		CreatedAt:        r.createdAt,
	}
	if rule.Multiplier, err = parseOptionalDecimal(r.multiplier); err != nil {
		return core.PricingRule{}, fmt.Errorf("rule %s multiplier: %w", r.id, err)
	}
	if rule.FlatRate, err = parseOptionalDecimal(r.flatRate); err != nil {
		return core.PricingRule{}, fmt.Errorf("rule %s flat_rate: %w", r.id, err)
	}
	if rule.ThresholdAmount, err = parseOptionalDecimal(r.threshold); err != nil {
		return core.PricingRule{}, fmt.Errorf("rule %s threshold_amount: %w", r.id, err)
	}
	return rule, nil
}

func conditionFromRow(id, ruleID, attr, op, value string, position int) (core.Condition, error) {
	operator, err := core.ParseOperator(op)
	if err != nil {
		return core.Condition{}, fmt.Errorf("condition %s: %w", id, err)
	}
	return core.Condition{
		ID:        id,
		RuleID:    ruleID,
		Attribute: attr,
		Operator:  operator,
		Value:     value,
		Position:  position,
	}, nil
}
