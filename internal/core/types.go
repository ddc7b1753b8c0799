package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for service and effective dates.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date at UTC midnight.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// Contract is a provider organization's agreement for one product line.
type Contract struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	Name           string         `json:"name"`
	ProductLine    string         `json:"product_line,omitempty"`
	Status         ContractStatus `json:"status"`
	EffectiveStart time.Time      `json:"effective_start"`
	EffectiveEnd   *time.Time     `json:"effective_end,omitempty"`
}

// Covers reports whether the contract's effective range includes date.
func (c Contract) Covers(date time.Time) bool {
	return coversDate(c.EffectiveStart, c.EffectiveEnd, date)
}

// PricingRule is one effective-dated rule attached to a contract.
// SpecificityScore is derived from the rule's conditions and is persisted
// only so stores can pre-order rules.
type PricingRule struct {
	ID               string           `json:"id"`
	ContractID       string           `json:"contract_id"`
	Description      string           `json:"description,omitempty"`
	Type             RuleType         `json:"rule_type"`
	Methodology      Methodology      `json:"methodology"`
	Status           RuleStatus       `json:"status"`
	EffectiveStart   time.Time        `json:"effective_start"`
	EffectiveEnd     *time.Time       `json:"effective_end,omitempty"`
	SpecificityScore int              `json:"specificity_score"`
	Multiplier       *decimal.Decimal `json:"multiplier,omitempty"`
	FlatRate         *decimal.Decimal `json:"flat_rate,omitempty"`
	ThresholdAmount  *decimal.Decimal `json:"threshold_amount,omitempty"`
	FeeScheduleID    string           `json:"fee_schedule_id,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// EffectiveOn reports whether the rule's effective range includes date.
func (r PricingRule) EffectiveOn(date time.Time) bool {
	return coversDate(r.EffectiveStart, r.EffectiveEnd, date)
}

// Condition is one attribute test on a rule. All conditions on a rule must match.
type Condition struct {
	ID        string   `json:"id"`
	RuleID    string   `json:"rule_id"`
	Attribute string   `json:"attribute"`
	Operator  Operator `json:"operator"`
	Value     string   `json:"value"`
	Position  int      `json:"position"`
}

// String renders the condition the way trace messages show it.
func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Attribute, c.Operator, c.Value)
}

// FeeSchedule is a named set of per-code rates or weights.
type FeeSchedule struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Source         string    `json:"source,omitempty"`
	EffectiveStart time.Time `json:"effective_start"`
}

// FeeScheduleRate is the amount for one code in one schedule. RBRVS reads it
// as dollars, DRG as a relative weight.
type FeeScheduleRate struct {
	FeeScheduleID string          `json:"fee_schedule_id"`
	Code          string          `json:"code"`
	Amount        decimal.Decimal `json:"amount"`
}

// RuleWithConditions pairs a rule with its condition set.
type RuleWithConditions struct {
	Rule       PricingRule `json:"rule"`
	Conditions []Condition `json:"conditions"`
}

func coversDate(start time.Time, end *time.Time, date time.Time) bool {
	if date.Before(start) {
		return false
	}
	return end == nil || !date.After(*end)
}

// Step is one entry of a pricing trace.
type Step struct {
	Kind    StepKind `json:"step"`
	Message string   `json:"message"`
}

// Trace is the ordered explanation built while pricing a single claim.
// A Trace belongs to exactly one CalculatePrice call.
type Trace struct {
	steps []Step
}

// Add appends a formatted step.
func (t *Trace) Add(kind StepKind, format string, args ...any) {
	t.steps = append(t.steps, Step{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// Steps returns a copy of the recorded steps.
func (t *Trace) Steps() []Step {
	out := make([]Step, len(t.steps))
	copy(out, t.steps)
	return out
}

// Last returns the most recent step.
func (t *Trace) Last() (Step, bool) {
	if len(t.steps) == 0 {
		return Step{}, false
	}
	return t.steps[len(t.steps)-1], true
}

// PriceResult is what the engine returns for every claim, including failures.
type PriceResult struct {
	AllowedAmount decimal.Decimal
	AppliedRuleID *string
	ContractID    string
	Trace         []Step
	Status        Status
	Outcome       Outcome
	ErrorMessage  string
}

type priceResultJSON struct {
	AllowedAmount string  `json:"allowed_amount"`
	AppliedRuleID *string `json:"applied_rule_id"`
	ContractID    string  `json:"contract_id,omitempty"`
	Trace         []Step  `json:"trace"`
	Status        Status  `json:"status"`
	Outcome       Outcome `json:"outcome"`
	ErrorMessage  string  `json:"error_message,omitempty"`
}

// MarshalJSON renders the allowed amount with exactly two decimal places.
func (r PriceResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(priceResultJSON{
		AllowedAmount: r.AllowedAmount.StringFixed(2),
		AppliedRuleID: r.AppliedRuleID,
		ContractID:    r.ContractID,
		Trace:         r.Trace,
		Status:        r.Status,
		Outcome:       r.Outcome,
		ErrorMessage:  r.ErrorMessage,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *PriceResult) UnmarshalJSON(data []byte) error {
	var raw priceResultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	amount, err := decimal.NewFromString(raw.AllowedAmount)
	if err != nil {
		return fmt.Errorf("allowed_amount: %w", err)
	}
	*r = PriceResult{
		AllowedAmount: amount,
		AppliedRuleID: raw.AppliedRuleID,
		ContractID:    raw.ContractID,
		Trace:         raw.Trace,
		Status:        raw.Status,
		Outcome:       raw.Outcome,
		ErrorMessage:  raw.ErrorMessage,
	}
	return nil
}
