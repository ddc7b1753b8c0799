package pricing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"claimpricer/internal/core"
	"claimpricer/internal/refdata"
)

// RateLookup resolves fee schedule entries. refdata.Reader satisfies it.
type RateLookup interface {
	GetFeeScheduleRate(ctx context.Context, feeScheduleID, code string) (decimal.Decimal, error)
}

// Contribution is one rule's computed amount and how it was derived.
type Contribution struct {
	Amount      decimal.Decimal
	Explanation string
}

// RuleError is a failure local to one rule. The rule contributes $0 and
// pricing continues with the next rule.
type RuleError struct {
	RuleID      string
	Methodology core.Methodology
	Reason      string
	Err         error
}

func (e *RuleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s rule %s: %s: %v", e.Methodology, e.RuleID, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s rule %s: %s", e.Methodology, e.RuleID, e.Reason)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// Calculator computes methodology amounts for matched rules.
type Calculator struct {
	rates RateLookup
}

// NewCalculator returns a Calculator reading fee schedules from rates.
func NewCalculator(rates RateLookup) *Calculator {
	return &Calculator{rates: rates}
}

// Calculate returns the rule's contribution. A *RuleError means the rule
// contributes nothing; any other error is unexpected.
func (c *Calculator) Calculate(ctx context.Context, rule core.PricingRule, claim core.Claim) (Contribution, error) {
	var (
		contrib Contribution
		err     error
	)
	switch rule.Methodology {
	case core.MethodologyFlatRate:
		contrib, err = c.flatRate(rule)
	case core.MethodologyPerDiem:
		contrib, err = c.perDiem(rule, claim)
	case core.MethodologyRBRVS:
		contrib, err = c.rbrvs(ctx, rule, claim)
	case core.MethodologyDRG:
		contrib, err = c.drg(ctx, rule, claim)
	case core.MethodologyPercentBilled:
		contrib, err = c.percentBilled(rule, claim)
	default:
		return Contribution{}, fmt.Errorf("rule %s: unsupported methodology %q", rule.ID, rule.Methodology)
	}
	if err != nil {
		return Contribution{}, err
	}
	if contrib.Amount.IsNegative() {
		return Contribution{}, ruleErr(rule, fmt.Sprintf("computed negative amount %s", money(contrib.Amount)), nil)
	}
	return contrib, nil
}

func (c *Calculator) flatRate(rule core.PricingRule) (Contribution, error) {
	if rule.FlatRate == nil {
		return Contribution{}, ruleErr(rule, "flat rate is not set", nil)
	}
	return Contribution{
		Amount:      *rule.FlatRate,
		Explanation: fmt.Sprintf("Strategy: FLAT_RATE = %s", money(*rule.FlatRate)),
	}, nil
}

func (c *Calculator) perDiem(rule core.PricingRule, claim core.Claim) (Contribution, error) {
	if rule.FlatRate == nil {
		return Contribution{}, ruleErr(rule, "daily rate is not set", nil)
	}
	units := decimal.NewFromInt(1)
	if raw, ok := claim.Get(core.AttrUnits); ok {
		// Whole days only: "3.0" and "1e1" are rejected along with "-2".
		n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 63)
		if err != nil {
			return Contribution{}, ruleErr(rule, fmt.Sprintf("invalid units %q", raw), err)
		}
		units = decimal.NewFromInt(int64(n))
	}
	amount := rule.FlatRate.Mul(units)
	return Contribution{
		Amount:      amount,
		Explanation: fmt.Sprintf("Strategy: PER_DIEM (%s x %s days) = %s", money(*rule.FlatRate), units, money(amount)),
	}, nil
}

func (c *Calculator) rbrvs(ctx context.Context, rule core.PricingRule, claim core.Claim) (Contribution, error) {
	rate, code, err := c.lookup(ctx, rule, claim)
	if err != nil {
		return Contribution{}, err
	}
	multiplier := decimal.NewFromInt(1)
	if rule.Multiplier != nil {
		multiplier = *rule.Multiplier
	}
	amount := rate.Mul(multiplier)
	return Contribution{
		Amount:      amount,
		Explanation: fmt.Sprintf("Strategy: RBRVS (Rate %s for %s x %s) = %s", money(rate), code, multiplier, money(amount)),
	}, nil
}

func (c *Calculator) drg(ctx context.Context, rule core.PricingRule, claim core.Claim) (Contribution, error) {
	if rule.FlatRate == nil {
		return Contribution{}, ruleErr(rule, "hospital base rate is not set", nil)
	}
	weight, code, err := c.lookup(ctx, rule, claim)
	if err != nil {
		return Contribution{}, err
	}
	amount := rule.FlatRate.Mul(weight)
	return Contribution{
		Amount:      amount,
		Explanation: fmt.Sprintf("Strategy: DRG %s (Base %s x Weight %s) = %s", code, money(*rule.FlatRate), weight, money(amount)),
	}, nil
}

func (c *Calculator) percentBilled(rule core.PricingRule, claim core.Claim) (Contribution, error) {
	if rule.Multiplier == nil {
		return Contribution{}, ruleErr(rule, "percentage is not set", nil)
	}
	billed, err := billedAmount(claim)
	if err != nil {
		return Contribution{}, ruleErr(rule, err.Error(), nil)
	}
	amount := billed.Mul(*rule.Multiplier)
	return Contribution{
		Amount:      amount,
		Explanation: fmt.Sprintf("Strategy: PERCENT_BILLED (%s x %s) = %s", money(billed), rule.Multiplier, money(amount)),
	}, nil
}

// lookup fetches the fee schedule entry for the claim's code.
func (c *Calculator) lookup(ctx context.Context, rule core.PricingRule, claim core.Claim) (decimal.Decimal, string, error) {
	if rule.FeeScheduleID == "" {
		return decimal.Zero, "", ruleErr(rule, "rule has no fee schedule", nil)
	}
	code, ok := claim.Get(core.AttrCode)
	if !ok || code == "" {
		return decimal.Zero, "", ruleErr(rule, "claim has no code", nil)
	}
	amount, err := c.rates.GetFeeScheduleRate(ctx, rule.FeeScheduleID, code)
	if errors.Is(err, refdata.ErrNotFound) {
		return decimal.Zero, code, ruleErr(rule, "fee schedule lookup missed", core.NewLookupMissError(rule.FeeScheduleID, code, err))
	}
	if err != nil {
		return decimal.Zero, code, fmt.Errorf("fee schedule %s lookup for %s: %w", rule.FeeScheduleID, code, err)
	}
	return amount, code, nil
}

// billedAmount parses billed_amount. A missing value is an error here;
// STOP_LOSS treats absence as zero before calling it.
func billedAmount(claim core.Claim) (decimal.Decimal, error) {
	raw, ok := claim.Get(core.AttrBilledAmount)
	if !ok {
		return decimal.Zero, fmt.Errorf("claim has no billed_amount")
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparsable billed_amount %q", raw)
	}
	return d, nil
}

func ruleErr(rule core.PricingRule, reason string, err error) *RuleError {
	return &RuleError{RuleID: rule.ID, Methodology: rule.Methodology, Reason: reason, Err: err}
}

// money renders an amount as dollars with cents.
func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
