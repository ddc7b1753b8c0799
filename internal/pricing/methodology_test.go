package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claimpricer/internal/core"
	"claimpricer/internal/refdata"
	"claimpricer/internal/refdata/refdatatest"
)

type rates map[string]string

func (r rates) GetFeeScheduleRate(_ context.Context, feeScheduleID, code string) (decimal.Decimal, error) {
	if feeScheduleID == "broken" {
		return decimal.Zero, errors.New("connection refused")
	}
	v, ok := r[code]
	if !ok {
		return decimal.Zero, refdata.ErrNotFound
	}
	return decimal.RequireFromString(v), nil
}

func TestCalculator(t *testing.T) {
	calc := NewCalculator(rates{"99213": "85.00", "470": "2.05", "93000": "20.00"})

	tests := []struct {
		name    string
		rule    core.PricingRule
		claim   core.Claim
		want    string
		explain string
		ruleErr bool
	}{
		{
			name:    "flat rate",
			rule:    core.PricingRule{Methodology: core.MethodologyFlatRate, FlatRate: refdatatest.Dec("50")},
			want:    "50.00",
			explain: "Strategy: FLAT_RATE = $50.00",
		},
		{
			name:    "flat rate missing amount",
			rule:    core.PricingRule{Methodology: core.MethodologyFlatRate},
			ruleErr: true,
		},
		{
			name:  "per diem defaults to one day",
			rule:  core.PricingRule{Methodology: core.MethodologyPerDiem, FlatRate: refdatatest.Dec("1250")},
			claim: core.Claim{},
			want:  "1250.00",
		},
		{
			name:  "per diem zero units",
			rule:  core.PricingRule{Methodology: core.MethodologyPerDiem, FlatRate: refdatatest.Dec("1250")},
			claim: core.Claim{"units": "0"},
			want:  "0.00",
		},
		{
			name:    "per diem fractional units",
			rule:    core.PricingRule{Methodology: core.MethodologyPerDiem, FlatRate: refdatatest.Dec("1250")},
			claim:   core.Claim{"units": "1.5"},
			ruleErr: true,
		},
		{
			name:    "per diem decimal-formatted units",
			rule:    core.PricingRule{Methodology: core.MethodologyPerDiem, FlatRate: refdatatest.Dec("1250")},
			claim:   core.Claim{"units": "3.0"},
			ruleErr: true,
		},
		{
			name:    "per diem exponent units",
			rule:    core.PricingRule{Methodology: core.MethodologyPerDiem, FlatRate: refdatatest.Dec("1250")},
			claim:   core.Claim{"units": "1e1"},
			ruleErr: true,
		},
		{
			name:  "per diem padded units",
			rule:  core.PricingRule{Methodology: core.MethodologyPerDiem, FlatRate: refdatatest.Dec("1250")},
			claim: core.Claim{"units": " 3 "},
			want:  "3750.00",
		},
		{
			name:    "per diem negative units",
			rule:    core.PricingRule{Methodology: core.MethodologyPerDiem, FlatRate: refdatatest.Dec("1250")},
			claim:   core.Claim{"units": "-2"},
			ruleErr: true,
		},
		{
			name:    "rbrvs",
			rule:    core.PricingRule{Methodology: core.MethodologyRBRVS, FeeScheduleID: "fs", Multiplier: refdatatest.Dec("1.5")},
			claim:   core.Claim{"code": "99213"},
			want:    "127.50",
			explain: "Strategy: RBRVS (Rate $85.00 for 99213 x 1.5) = $127.50",
		},
		{
			name:  "rbrvs without multiplier pays the schedule",
			rule:  core.PricingRule{Methodology: core.MethodologyRBRVS, FeeScheduleID: "fs"},
			claim: core.Claim{"code": "93000"},
			want:  "20.00",
		},
		{
			name:    "rbrvs lookup miss",
			rule:    core.PricingRule{Methodology: core.MethodologyRBRVS, FeeScheduleID: "fs"},
			claim:   core.Claim{"code": "00000"},
			ruleErr: true,
		},
		{
			name:    "rbrvs without fee schedule",
			rule:    core.PricingRule{Methodology: core.MethodologyRBRVS},
			claim:   core.Claim{"code": "99213"},
			ruleErr: true,
		},
		{
			name:    "rbrvs without code",
			rule:    core.PricingRule{Methodology: core.MethodologyRBRVS, FeeScheduleID: "fs"},
			claim:   core.Claim{},
			ruleErr: true,
		},
		{
			name:    "drg",
			rule:    core.PricingRule{Methodology: core.MethodologyDRG, FeeScheduleID: "fs", FlatRate: refdatatest.Dec("10000")},
			claim:   core.Claim{"code": "470"},
			want:    "20500.00",
			explain: "Strategy: DRG 470 (Base $10000.00 x Weight 2.05) = $20500.00",
		},
		{
			name:    "drg without base rate",
			rule:    core.PricingRule{Methodology: core.MethodologyDRG, FeeScheduleID: "fs"},
			claim:   core.Claim{"code": "470"},
			ruleErr: true,
		},
		{
			name:    "percent of billed",
			rule:    core.PricingRule{Methodology: core.MethodologyPercentBilled, Multiplier: refdatatest.Dec("0.45")},
			claim:   core.Claim{"billed_amount": "1000"},
			want:    "450.00",
			explain: "Strategy: PERCENT_BILLED ($1000.00 x 0.45) = $450.00",
		},
		{
			name:    "percent of billed without billed amount",
			rule:    core.PricingRule{Methodology: core.MethodologyPercentBilled, Multiplier: refdatatest.Dec("0.45")},
			claim:   core.Claim{},
			ruleErr: true,
		},
		{
			name:    "percent of negative billed",
			rule:    core.PricingRule{Methodology: core.MethodologyPercentBilled, Multiplier: refdatatest.Dec("0.45")},
			claim:   core.Claim{"billed_amount": "-100"},
			ruleErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.rule.ID = "r-test"
			got, err := calc.Calculate(context.Background(), tt.rule, tt.claim)
			if tt.ruleErr {
				var re *RuleError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, "r-test", re.RuleID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Amount.StringFixed(2))
			if tt.explain != "" {
				assert.Equal(t, tt.explain, got.Explanation)
			}
		})
	}
}

func TestCalculator_LookupErrors(t *testing.T) {
	calc := NewCalculator(rates{})
	rule := core.PricingRule{ID: "r-1", Methodology: core.MethodologyRBRVS, FeeScheduleID: "fs"}

	_, err := calc.Calculate(context.Background(), rule, core.Claim{"code": "99213"})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.ErrorKindLookupMiss))
	assert.ErrorIs(t, err, refdata.ErrNotFound)

	rule.FeeScheduleID = "broken"
	_, err = calc.Calculate(context.Background(), rule, core.Claim{"code": "99213"})
	require.Error(t, err)
	var re *RuleError
	assert.False(t, errors.As(err, &re), "store failures are not rule-local")

	_, err = calc.Calculate(context.Background(), core.PricingRule{ID: "r-2", Methodology: "CAPITATION"}, core.Claim{})
	require.Error(t, err)
	assert.False(t, errors.As(err, &re))
}
