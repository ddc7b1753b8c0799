package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"claimpricer/internal/core"
)

// Order selects the sequence in which matched rules are accumulated.
// Selection rank (which BASE wins) is always specificity order.
type Order string

const (
	// OrderScore walks rules in specificity order. An ADJUSTMENT ranked
	// above the rules it should scale multiplies whatever total exists so far,
	// and a CAP ranked above additive rules does not bound what they add.
	OrderScore Order = "score"
	// OrderStaged applies BASE, ADD_ON, ADJUSTMENT, STOP_LOSS, then CAP,
	// keeping specificity order inside each stage.
	OrderStaged Order = "staged"
)

// ParseOrder validates a configured accumulation order.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case OrderScore, OrderStaged:
		return Order(s), nil
	case "":
		return OrderScore, nil
	default:
		return "", fmt.Errorf("unknown accumulation order %q (valid: score, staged)", s)
	}
}

// RankedRule is a rule with its conditions and the score derived from them.
type RankedRule struct {
	Rule       core.PricingRule
	Conditions []core.Condition
	Score      int
}

// Rank sorts rules by score descending, then creation time, then ID.
func Rank(rules []RankedRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Rule.CreatedAt.Equal(b.Rule.CreatedAt) {
			return a.Rule.CreatedAt.Before(b.Rule.CreatedAt)
		}
		return a.Rule.ID < b.Rule.ID
	})
}

// Sequence returns ranked rules in the order they are accumulated.
func Sequence(ranked []RankedRule, order Order) []RankedRule {
	if order != OrderStaged {
		return ranked
	}
	out := make([]RankedRule, 0, len(ranked))
	for _, stage := range core.RuleTypes {
		for _, r := range ranked {
			if r.Rule.Type == stage {
				out = append(out, r)
			}
		}
	}
	return out
}

// accumulator is the stacking state machine for one claim.
type accumulator struct {
	calc          *Calculator
	trace         *core.Trace
	skips         *skipSampler
	onLookupMiss  func(core.Methodology)
	total         decimal.Decimal
	baseApplied   bool
	appliedRuleID *string

	// tightest cap applied so far; only score order can apply rules after it
	capRuleID string
	capLimit  decimal.Decimal
	capped    bool
}

func newAccumulator(calc *Calculator, trace *core.Trace, maxSkips int, onLookupMiss func(core.Methodology)) *accumulator {
	return &accumulator{
		calc:         calc,
		trace:        trace,
		skips:        &skipSampler{max: maxSkips},
		onLookupMiss: onLookupMiss,
		total:        decimal.Zero,
	}
}

// run evaluates and applies each rule in sequence. Only unexpected errors
// are returned.
func (a *accumulator) run(ctx context.Context, seq []RankedRule, claim core.Claim) error {
	for _, r := range seq {
		if ok, failure := EvaluateConditions(r.Conditions, claim); !ok {
			a.skips.add(a.trace, "Rule %s (Score: %d): %s", r.Rule.ID, r.Score, failure)
			continue
		}
		if err := a.apply(ctx, r, claim); err != nil {
			return err
		}
	}
	if a.capped && a.total.GreaterThan(a.capLimit) {
		a.trace.Add(core.StepWarn, "Total %s exceeds cap %s of rule %s: rules ranked below the cap were applied after it",
			money(a.total), money(a.capLimit), a.capRuleID)
	}
	a.skips.flush(a.trace)
	return nil
}

func (a *accumulator) apply(ctx context.Context, r RankedRule, claim core.Claim) error {
	rule := r.Rule
	switch rule.Type {
	case core.RuleTypeBase:
		if a.baseApplied {
			a.trace.Add(core.StepSkip, "Rule %s (Score: %d) skipped: higher-score base already applied", rule.ID, r.Score)
			return nil
		}
		amount, err := a.contribute(ctx, rule, claim)
		if err != nil {
			return err
		}
		a.total = a.total.Add(amount)
		a.baseApplied = true
		id := rule.ID
		a.appliedRuleID = &id
		a.trace.Add(core.StepAccum, "[BASE] Rule %s (Score: %d) Added: +%s", rule.ID, r.Score, money(amount))

	case core.RuleTypeAddOn:
		amount, err := a.contribute(ctx, rule, claim)
		if err != nil {
			return err
		}
		a.total = a.total.Add(amount)
		a.trace.Add(core.StepAccum, "[ADD-ON] Rule %s (Score: %d) Added: +%s", rule.ID, r.Score, money(amount))

	case core.RuleTypeAdjustment:
		if rule.Multiplier == nil {
			a.trace.Add(core.StepWarn, "Rule %s (Score: %d) has no multiplier; adjustment not applied", rule.ID, r.Score)
			return nil
		}
		before := a.total
		a.total = a.total.Mul(*rule.Multiplier)
		a.trace.Add(core.StepAdjust, "Rule %s (Score: %d) Multiplier: %s (Price %s -> %s)",
			rule.ID, r.Score, rule.Multiplier, money(before), money(a.total))

	case core.RuleTypeStopLoss:
		a.stopLoss(r, claim)

	case core.RuleTypeCap:
		if rule.FlatRate == nil {
			a.trace.Add(core.StepWarn, "Rule %s (Score: %d) has no cap amount; cap not applied", rule.ID, r.Score)
			return nil
		}
		limit := *rule.FlatRate
		if !a.capped || limit.LessThan(a.capLimit) {
			a.capRuleID, a.capLimit, a.capped = rule.ID, limit, true
		}
		if a.total.GreaterThan(limit) {
			diff := a.total.Sub(limit)
			a.total = limit
			a.trace.Add(core.StepLimit, "Price capped at %s (Reduced by %s)", money(limit), money(diff))
		}

	default:
		return fmt.Errorf("rule %s: unsupported rule type %q", rule.ID, rule.Type)
	}
	return nil
}

// stopLoss pays a share of billed charges above the threshold. A missing
// billed amount is zero; a missing threshold is zero.
func (a *accumulator) stopLoss(r RankedRule, claim core.Claim) {
	rule := r.Rule
	threshold := decimal.Zero
	if rule.ThresholdAmount != nil {
		threshold = *rule.ThresholdAmount
	}

	billed := decimal.Zero
	if _, ok := claim.Get(core.AttrBilledAmount); ok {
		b, err := billedAmount(claim)
		if err != nil {
			a.trace.Add(core.StepError, "Rule %s (Score: %d): %v; stop loss contributes %s", rule.ID, r.Score, err, money(decimal.Zero))
			return
		}
		billed = b
	}

	if !billed.GreaterThan(threshold) {
		a.trace.Add(core.StepSkip, "Rule %s (Score: %d): stop loss threshold (%s) not met", rule.ID, r.Score, money(threshold))
		return
	}
	if rule.Multiplier == nil {
		a.trace.Add(core.StepError, "Rule %s (Score: %d) has no outlier percentage; stop loss contributes %s", rule.ID, r.Score, money(decimal.Zero))
		return
	}

	excess := billed.Sub(threshold)
	payment := excess.Mul(*rule.Multiplier)
	a.total = a.total.Add(payment)
	a.trace.Add(core.StepOutlier, "Billed %s > Threshold %s. Paying %s of excess (%s) = +%s",
		money(billed), money(threshold), rule.Multiplier, money(excess), money(payment))
}

// contribute runs the methodology. Rule-local failures become an ERROR step
// and a zero amount.
func (a *accumulator) contribute(ctx context.Context, rule core.PricingRule, claim core.Claim) (decimal.Decimal, error) {
	contrib, err := a.calc.Calculate(ctx, rule, claim)
	var ruleErr *RuleError
	switch {
	case err == nil:
		a.trace.Add(core.StepCalc, "%s", contrib.Explanation)
		return contrib.Amount, nil
	case errors.As(err, &ruleErr):
		if core.IsKind(err, core.ErrorKindLookupMiss) && a.onLookupMiss != nil {
			a.onLookupMiss(rule.Methodology)
		}
		a.trace.Add(core.StepError, "%s; contributing %s", ruleErr.Error(), money(decimal.Zero))
		return decimal.Zero, nil
	default:
		return decimal.Zero, err
	}
}

// skipSampler caps the number of condition-failure steps per claim.
type skipSampler struct {
	max        int
	emitted    int
	suppressed int
}

func (s *skipSampler) add(trace *core.Trace, format string, args ...any) {
	if s.max > 0 && s.emitted >= s.max {
		s.suppressed++
		return
	}
	s.emitted++
	trace.Add(core.StepSkip, format, args...)
}

func (s *skipSampler) flush(trace *core.Trace) {
	if s.suppressed > 0 {
		trace.Add(core.StepWarn, "%d further condition failures not shown", s.suppressed)
		s.suppressed = 0
	}
}
