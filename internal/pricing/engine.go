// Package pricing prices claims against contracted rules and explains the result.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"claimpricer/internal/core"
	"claimpricer/internal/refdata"
	"claimpricer/internal/score"
	"claimpricer/internal/worker"
)

// DefaultBatchConcurrency is used when Options.BatchConcurrency is not positive.
const DefaultBatchConcurrency = 8

// Hooks receive pricing events. Any field may be nil.
type Hooks struct {
	// OnPriced is called once per claim with the final result.
	OnPriced func(ctx context.Context, claim core.Claim, result *core.PriceResult, elapsed time.Duration)
	// OnLookupMiss is called when a fee schedule entry is missing.
	OnLookupMiss func(methodology core.Methodology)
}

// Options configures an Engine.
type Options struct {
	Order            Order
	MaxSkipSteps     int
	BatchConcurrency int
	Hooks            Hooks
}

// Engine prices claims. It holds no per-claim state and is safe for
// concurrent use.
type Engine struct {
	reader refdata.Reader
	calc   *Calculator
	opts   Options
}

// New creates an Engine reading reference data from reader.
func New(reader refdata.Reader, opts Options) *Engine {
	if opts.Order == "" {
		opts.Order = OrderScore
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = DefaultBatchConcurrency
	}
	return &Engine{
		reader: reader,
		calc:   NewCalculator(reader),
		opts:   opts,
	}
}

// Order returns the configured accumulation order.
func (e *Engine) Order() Order {
	return e.opts.Order
}

// CalculatePrice prices one claim. It never returns nil and never panics;
// unexpected failures produce a FAULT result with a CRITICAL step.
func (e *Engine) CalculatePrice(ctx context.Context, claim core.Claim) (result *core.PriceResult) {
	start := time.Now()
	trace := &core.Trace{}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("pricing panic", "panic", r, "stack", string(debug.Stack()))
			result = e.fault(ctx, trace, fmt.Errorf("panic: %v", r))
		}
		e.notifyPriced(ctx, claim, result, time.Since(start))
	}()

	result, err := e.price(ctx, claim, trace)
	if err != nil {
		return e.fault(ctx, trace, err)
	}
	slog.Debug("claim priced",
		"request_id", core.GetRequestID(ctx),
		"outcome", result.Outcome,
		"allowed_amount", result.AllowedAmount.StringFixed(2),
		"contract_id", result.ContractID,
	)
	return result
}

// notifyPriced runs the OnPriced hook. A panicking hook is logged and
// dropped; the result has already been produced.
func (e *Engine) notifyPriced(ctx context.Context, claim core.Claim, result *core.PriceResult, elapsed time.Duration) {
	if e.opts.Hooks.OnPriced == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("OnPriced hook panic",
				"request_id", core.GetRequestID(ctx),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	e.opts.Hooks.OnPriced(ctx, claim, result, elapsed)
}

// PriceBatch prices claims concurrently. Results are in input order; claims
// not started before ctx is cancelled come back as faults.
func (e *Engine) PriceBatch(ctx context.Context, claims []core.Claim) []*core.PriceResult {
	return worker.Map(ctx, e.opts.BatchConcurrency, claims,
		func(ctx context.Context, claim core.Claim) *core.PriceResult {
			return e.CalculatePrice(ctx, claim)
		},
		func(core.Claim) *core.PriceResult {
			trace := &core.Trace{}
			trace.Add(core.StepCritical, "Claim not priced: %v", context.Cause(ctx))
			return &core.PriceResult{
				AllowedAmount: decimal.Zero,
				Trace:         trace.Steps(),
				Status:        core.StatusError,
				Outcome:       core.OutcomeFault,
				ErrorMessage:  "batch cancelled before claim was priced",
			}
		},
	)
}

// price returns an error only for faults.
func (e *Engine) price(ctx context.Context, claim core.Claim, trace *core.Trace) (*core.PriceResult, error) {
	providerID, _ := claim.Get(core.AttrProviderID)
	rawDate, _ := claim.Get(core.AttrDateOfService)
	trace.Add(core.StepInit, "Processing claim for provider %s on %s", orMissing(providerID), orMissing(rawDate))

	if providerID == "" {
		trace.Add(core.StepContract, "Contract resolution failed: claim has no provider_id")
		return e.terminal(trace, core.OutcomeNoContract, ""), nil
	}
	asOf, ok := claim.DateOfService()
	if !ok {
		trace.Add(core.StepContract, "Contract resolution failed: invalid date_of_service %q", rawDate)
		return e.terminal(trace, core.OutcomeNoContract, ""), nil
	}

	contract, err := ResolveContract(ctx, e.reader, providerID, asOf)
	switch {
	case err == nil:
	case core.IsKind(err, core.ErrorKindNoContract):
		trace.Add(core.StepContract, "Contract resolution failed: %v", err)
		return e.terminal(trace, core.OutcomeNoContract, ""), nil
	case core.IsKind(err, core.ErrorKindAmbiguousContract):
		var pe *core.PricingError
		errors.As(err, &pe)
		slog.Warn("ambiguous contract",
			"request_id", core.GetRequestID(ctx),
			"provider_id", providerID,
			"date_of_service", rawDate,
			"candidates", pe.Candidates,
		)
		trace.Add(core.StepContract, "Contract resolution failed: %v (candidates: %s)", err, strings.Join(pe.Candidates, ", "))
		return e.terminal(trace, core.OutcomeAmbiguousContract, ""), nil
	default:
		return nil, err
	}
	trace.Add(core.StepContract, "Using contract %s (%s)", contract.Name, contract.ID)

	rules, err := e.reader.ListApplicableRules(ctx, contract.ID, asOf)
	if err != nil {
		return nil, fmt.Errorf("list rules for contract %s: %w", contract.ID, err)
	}
	if len(rules) == 0 {
		trace.Add(core.StepWarn, "No rules found.")
		trace.Add(core.StepStop, "No applicable rules matched.")
		return e.terminal(trace, core.OutcomeNoMatch, contract.ID), nil
	}

	ranked, err := e.rank(ctx, rules, trace)
	if err != nil {
		return nil, err
	}

	acc := newAccumulator(e.calc, trace, e.opts.MaxSkipSteps, e.opts.Hooks.OnLookupMiss)
	if err := acc.run(ctx, Sequence(ranked, e.opts.Order), claim); err != nil {
		return nil, err
	}

	total := acc.total
	if total.IsNegative() {
		trace.Add(core.StepError, "Total %s is negative; clamped to %s", money(total), money(decimal.Zero))
		total = decimal.Zero
	}
	total = total.Round(2)

	if !acc.baseApplied && total.IsZero() {
		trace.Add(core.StepStop, "No applicable rules matched.")
		return e.terminal(trace, core.OutcomeNoMatch, contract.ID), nil
	}

	trace.Add(core.StepSuccess, "Final stacked price: %s", money(total))
	return &core.PriceResult{
		AllowedAmount: total,
		AppliedRuleID: acc.appliedRuleID,
		ContractID:    contract.ID,
		Trace:         trace.Steps(),
		Status:        core.StatusOK,
		Outcome:       core.OutcomePriced,
	}, nil
}

// rank loads conditions, derives each rule's score and sorts by it.
func (e *Engine) rank(ctx context.Context, rules []core.PricingRule, trace *core.Trace) ([]RankedRule, error) {
	ranked := make([]RankedRule, 0, len(rules))
	for _, rule := range rules {
		conds, err := e.reader.GetConditions(ctx, rule.ID)
		if err != nil && !errors.Is(err, refdata.ErrNotFound) {
			return nil, fmt.Errorf("load conditions for rule %s: %w", rule.ID, err)
		}
		n := score.Specificity(conds)
		if n != rule.SpecificityScore {
			trace.Add(core.StepWarn, "Rule %s stored score %d is stale; ranked with derived score %d", rule.ID, rule.SpecificityScore, n)
		}
		ranked = append(ranked, RankedRule{Rule: rule, Conditions: conds, Score: n})
	}
	Rank(ranked)
	return ranked, nil
}

func (e *Engine) terminal(trace *core.Trace, outcome core.Outcome, contractID string) *core.PriceResult {
	return &core.PriceResult{
		AllowedAmount: decimal.Zero,
		ContractID:    contractID,
		Trace:         trace.Steps(),
		Status:        core.StatusOK,
		Outcome:       outcome,
	}
}

func (e *Engine) fault(ctx context.Context, trace *core.Trace, err error) *core.PriceResult {
	fault := core.NewEngineFault("pricing failed", err)
	slog.Error("engine fault", "request_id", core.GetRequestID(ctx), "error", err)
	trace.Add(core.StepCritical, "Engine failure: %v", err)
	return &core.PriceResult{
		AllowedAmount: decimal.Zero,
		Trace:         trace.Steps(),
		Status:        core.StatusError,
		Outcome:       core.OutcomeFault,
		ErrorMessage:  fault.Error(),
	}
}

func orMissing(s string) string {
	if s == "" {
		return "<missing>"
	}
	return s
}
