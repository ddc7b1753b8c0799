package seed

import (
	"context"

	"github.com/shopspring/decimal"

	"claimpricer/internal/core"
)

// Pricer prices a single claim. *pricing.Engine satisfies it.
type Pricer interface {
	CalculatePrice(ctx context.Context, claim core.Claim) *core.PriceResult
}

// Check is the result of running one scenario.
type Check struct {
	Scenario Scenario
	Result   *core.PriceResult
	Pass     bool
	// Reason explains a failure.
	Reason string
}

// Verify prices every scenario and compares amount and outcome.
func (ds *Dataset) Verify(ctx context.Context, p Pricer) []Check {
	checks := make([]Check, 0, len(ds.Scenarios))
	for _, sc := range ds.Scenarios {
		claim := make(core.Claim, len(sc.Claim))
		for k, v := range sc.Claim {
			claim[k] = v
		}
		result := p.CalculatePrice(ctx, claim)
		checks = append(checks, sc.check(result))
	}
	return checks
}

func (sc Scenario) check(result *core.PriceResult) Check {
	c := Check{Scenario: sc, Result: result, Pass: true}

	expected, err := decimal.NewFromString(sc.Expected)
	switch {
	case err != nil:
		c.Pass, c.Reason = false, "invalid expected amount "+sc.Expected
	case !result.AllowedAmount.Equal(expected):
		c.Pass, c.Reason = false, "expected $"+expected.StringFixed(2)+", got $"+result.AllowedAmount.StringFixed(2)
	case sc.Outcome != "" && core.Outcome(sc.Outcome) != result.Outcome:
		c.Pass, c.Reason = false, "expected outcome "+sc.Outcome+", got "+string(result.Outcome)
	case result.Status != core.StatusOK:
		c.Pass, c.Reason = false, "status "+string(result.Status)+": "+result.ErrorMessage
	}
	return c
}

// Passed counts passing checks.
func Passed(checks []Check) int {
	n := 0
	for _, c := range checks {
		if c.Pass {
			n++
		}
	}
	return n
}
