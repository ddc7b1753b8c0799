// Package refdatatest holds a behavioural suite every refdata.Store must pass.
// Backend tests (in-process and containerised) call Run with a fresh store.
package refdatatest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claimpricer/internal/core"
	"claimpricer/internal/refdata"
)

// Run executes the suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) refdata.Store) {
	t.Helper()

	t.Run("contract resolution window", func(t *testing.T) {
		testContractWindow(t, newStore(t))
	})
	t.Run("overlapping active contracts", func(t *testing.T) {
		testOverlappingContracts(t, newStore(t))
	})
	t.Run("rule filtering and ordering", func(t *testing.T) {
		testRuleOrdering(t, newStore(t))
	})
	t.Run("conditions replaced with rule", func(t *testing.T) {
		testConditionReplacement(t, newStore(t))
	})
	t.Run("fee schedule lookup", func(t *testing.T) {
		testFeeSchedule(t, newStore(t))
	})
	t.Run("rescore", func(t *testing.T) {
		testRescore(t, newStore(t))
	})
	t.Run("catalog and reset", func(t *testing.T) {
		testCatalogAndReset(t, newStore(t))
	})
}

// Date parses YYYY-MM-DD or fails the test.
func Date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := core.ParseDate(s)
	require.NoError(t, err)
	return d
}

// Dec parses a decimal literal.
func Dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func putContract(t *testing.T, s refdata.Store, id, org string, status core.ContractStatus, start string, end string) {
	t.Helper()
	c := core.Contract{
		ID:             id,
		OrganizationID: org,
		Name:           id,
		ProductLine:    "Commercial",
		Status:         status,
		EffectiveStart: Date(t, start),
	}
	if end != "" {
		e := Date(t, end)
		c.EffectiveEnd = &e
	}
	require.NoError(t, s.PutContract(context.Background(), c))
}

func contractIDs(cs []core.Contract) []string {
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.ID)
	}
	return ids
}

func ruleIDs(rs []core.PricingRule) []string {
	ids := make([]string, 0, len(rs))
	for _, r := range rs {
		ids = append(ids, r.ID)
	}
	return ids
}

func testContractWindow(t *testing.T, s refdata.Store) {
	ctx := context.Background()
	putContract(t, s, "c-2025", "org-1", core.ContractActive, "2025-01-01", "2025-12-31")
	putContract(t, s, "c-2026", "org-1", core.ContractActive, "2026-01-01", "")
	putContract(t, s, "c-draft", "org-1", core.ContractDraft, "2024-01-01", "")
	putContract(t, s, "c-term", "org-1", core.ContractTerminated, "2024-01-01", "")
	putContract(t, s, "c-other", "org-2", core.ContractActive, "2024-01-01", "")

	tests := []struct {
		date string
		want []string
	}{
		{"2024-06-01", nil},
		{"2025-12-31", []string{"c-2025"}},
		{"2026-01-01", []string{"c-2026"}},
		{"2031-03-15", []string{"c-2026"}},
	}
	for _, tt := range tests {
		got, err := s.FindActiveContracts(ctx, "org-1", Date(t, tt.date))
		require.NoError(t, err)
		assert.ElementsMatch(t, tt.want, contractIDs(got), "date %s", tt.date)
	}

	got, err := s.FindActiveContracts(ctx, "org-1", Date(t, "2026-06-01"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "org-1", got[0].OrganizationID)
	assert.Equal(t, core.ContractActive, got[0].Status)
	assert.Nil(t, got[0].EffectiveEnd)
	assert.True(t, got[0].EffectiveStart.Equal(Date(t, "2026-01-01")))
}

func testOverlappingContracts(t *testing.T, s refdata.Store) {
	putContract(t, s, "c-a", "org-1", core.ContractActive, "2026-01-01", "")
	putContract(t, s, "c-b", "org-1", core.ContractActive, "2026-03-01", "2026-12-31")

	got, err := s.FindActiveContracts(context.Background(), "org-1", Date(t, "2026-06-01"))
	require.NoError(t, err)
	assert.Equal(t, []string{"c-a", "c-b"}, contractIDs(got))
}

func testRuleOrdering(t *testing.T, s refdata.Store) {
	ctx := context.Background()
	putContract(t, s, "c-1", "org-1", core.ContractActive, "2026-01-01", "")

	base := Date(t, "2026-01-01")
	created := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	expired := Date(t, "2026-03-31")

	rules := []struct {
		rule  core.PricingRule
		conds []core.Condition
	}{
		{core.PricingRule{ID: "r-generic", Type: core.RuleTypeBase, Methodology: core.MethodologyFlatRate, FlatRate: Dec("50"), CreatedAt: created}, nil},
		{core.PricingRule{ID: "r-exact", Type: core.RuleTypeBase, Methodology: core.MethodologyRBRVS, Multiplier: Dec("1.50"), FeeScheduleID: "fs-1", CreatedAt: created}, []core.Condition{
			{Attribute: "code", Operator: core.OperatorEQ, Value: "99213"},
		}},
		{core.PricingRule{ID: "r-mod-b", Type: core.RuleTypeAdjustment, Methodology: core.MethodologyFlatRate, Multiplier: Dec("0.5"), CreatedAt: created.Add(time.Second)}, []core.Condition{
			{Attribute: "modifier", Operator: core.OperatorEQ, Value: "51"},
		}},
		{core.PricingRule{ID: "r-mod-a", Type: core.RuleTypeAdjustment, Methodology: core.MethodologyFlatRate, Multiplier: Dec("1.5"), CreatedAt: created.Add(time.Second)}, []core.Condition{
			{Attribute: "modifier", Operator: core.OperatorEQ, Value: "50"},
		}},
		{core.PricingRule{ID: "r-mod-early", Type: core.RuleTypeAdjustment, Methodology: core.MethodologyFlatRate, Multiplier: Dec("0.2"), CreatedAt: created}, []core.Condition{
			{Attribute: "modifier", Operator: core.OperatorEQ, Value: "80"},
		}},
		{core.PricingRule{ID: "r-retired", Type: core.RuleTypeBase, Status: core.RuleRetired, Methodology: core.MethodologyFlatRate, FlatRate: Dec("1"), CreatedAt: created}, []core.Condition{
			{Attribute: "code", Operator: core.OperatorEQ, Value: "99213"},
		}},
		{core.PricingRule{ID: "r-expired", Type: core.RuleTypeBase, Methodology: core.MethodologyFlatRate, FlatRate: Dec("1"), EffectiveEnd: &expired, CreatedAt: created}, []core.Condition{
			{Attribute: "code", Operator: core.OperatorEQ, Value: "99213"},
		}},
	}
	for _, r := range rules {
		r.rule.ContractID = "c-1"
		r.rule.EffectiveStart = base
		require.NoError(t, s.PutRule(ctx, r.rule, r.conds))
	}

	got, err := s.ListApplicableRules(ctx, "c-1", Date(t, "2026-06-01"))
	require.NoError(t, err)
	assert.Equal(t, []string{"r-exact", "r-mod-early", "r-mod-a", "r-mod-b", "r-generic"}, ruleIDs(got))

	exact := got[0]
	assert.Equal(t, 1000, exact.SpecificityScore)
	assert.Equal(t, core.RuleActive, exact.Status)
	assert.Equal(t, core.MethodologyRBRVS, exact.Methodology)
	assert.Equal(t, "fs-1", exact.FeeScheduleID)
	require.NotNil(t, exact.Multiplier)
	assert.True(t, exact.Multiplier.Equal(decimal.RequireFromString("1.5")), "multiplier %s", exact.Multiplier)
	assert.Nil(t, exact.FlatRate)
	assert.Nil(t, exact.ThresholdAmount)
	assert.True(t, exact.CreatedAt.Equal(created))

	// Before the expiry the expired rule is still applicable.
	early, err := s.ListApplicableRules(ctx, "c-1", Date(t, "2026-02-01"))
	require.NoError(t, err)
	assert.Contains(t, ruleIDs(early), "r-expired")

	all, err := s.ListRules(ctx, "c-1")
	require.NoError(t, err)
	assert.Len(t, all, len(rules))
}

func testConditionReplacement(t *testing.T, s refdata.Store) {
	ctx := context.Background()
	putContract(t, s, "c-1", "org-1", core.ContractActive, "2026-01-01", "")

	rule := core.PricingRule{
		ID:             "r-1",
		ContractID:     "c-1",
		Type:           core.RuleTypeBase,
		Methodology:    core.MethodologyFlatRate,
		FlatRate:       Dec("50.00"),
		EffectiveStart: Date(t, "2026-01-01"),
	}
	require.NoError(t, s.PutRule(ctx, rule, []core.Condition{
		{Attribute: "code", Operator: core.OperatorIN, Value: "97110,97112"},
		{Attribute: "network_status", Operator: core.OperatorEQ, Value: "INN"},
	}))

	conds, err := s.GetConditions(ctx, "r-1")
	require.NoError(t, err)
	require.Len(t, conds, 2)
	assert.Equal(t, "code", conds[0].Attribute)
	assert.Equal(t, core.OperatorIN, conds[0].Operator)
	assert.Equal(t, "97110,97112", conds[0].Value)
	assert.Equal(t, "r-1", conds[0].RuleID)
	assert.Equal(t, "network_status", conds[1].Attribute)

	require.NoError(t, s.PutRule(ctx, rule, []core.Condition{
		{Attribute: "rev_code", Operator: core.OperatorEQ, Value: "0278"},
	}))
	conds, err = s.GetConditions(ctx, "r-1")
	require.NoError(t, err)
	require.Len(t, conds, 1)
	assert.Equal(t, "rev_code", conds[0].Attribute)

	rules, err := s.ListRules(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 10, rules[0].SpecificityScore)

	none, err := s.GetConditions(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testFeeSchedule(t *testing.T, s refdata.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutFeeSchedule(ctx, core.FeeSchedule{
		ID: "fs-1", Name: "Medicare Physician Fee Schedule CY2026", Source: "CMS", EffectiveStart: Date(t, "2026-01-01"),
	}))
	require.NoError(t, s.PutFeeScheduleRate(ctx, core.FeeScheduleRate{FeeScheduleID: "fs-1", Code: "99213", Amount: *Dec("85.00")}))
	require.NoError(t, s.PutFeeScheduleRate(ctx, core.FeeScheduleRate{FeeScheduleID: "fs-1", Code: "470", Amount: *Dec("2.05")}))

	rate, err := s.GetFeeScheduleRate(ctx, "fs-1", "99213")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("85")), "rate %s", rate)

	weight, err := s.GetFeeScheduleRate(ctx, "fs-1", "470")
	require.NoError(t, err)
	assert.True(t, weight.Equal(decimal.RequireFromString("2.05")), "weight %s", weight)

	require.NoError(t, s.PutFeeScheduleRate(ctx, core.FeeScheduleRate{FeeScheduleID: "fs-1", Code: "99213", Amount: *Dec("86.10")}))
	rate, err = s.GetFeeScheduleRate(ctx, "fs-1", "99213")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("86.1")))

	_, err = s.GetFeeScheduleRate(ctx, "fs-1", "00000")
	assert.ErrorIs(t, err, refdata.ErrNotFound)
	_, err = s.GetFeeScheduleRate(ctx, "fs-missing", "99213")
	assert.ErrorIs(t, err, refdata.ErrNotFound)
}

func testRescore(t *testing.T, s refdata.Store) {
	ctx := context.Background()
	putContract(t, s, "c-1", "org-1", core.ContractActive, "2026-01-01", "")
	require.NoError(t, s.PutRule(ctx, core.PricingRule{
		ID:             "r-1",
		ContractID:     "c-1",
		Type:           core.RuleTypeAdjustment,
		Methodology:    core.MethodologyFlatRate,
		Multiplier:     Dec("1.5"),
		EffectiveStart: Date(t, "2026-01-01"),
	}, []core.Condition{{Attribute: "modifier", Operator: core.OperatorEQ, Value: "50"}}))

	require.NoError(t, s.SetScore(ctx, "r-1", 0))
	changed, err := refdata.RescoreContract(ctx, s, "c-1")
	require.NoError(t, err)
	assert.Equal(t, []refdata.RescoreResult{{RuleID: "r-1", OldScore: 0, NewScore: 500}}, changed)

	changed, err = refdata.RescoreContract(ctx, s, "c-1")
	require.NoError(t, err)
	assert.Empty(t, changed)

	err = s.SetScore(ctx, "missing", 1)
	assert.ErrorIs(t, err, refdata.ErrNotFound)
}

func testCatalogAndReset(t *testing.T, s refdata.Store) {
	ctx := context.Background()
	putContract(t, s, "c-1", "org-1", core.ContractActive, "2026-01-01", "2026-12-31")

	c, err := s.GetContract(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "Commercial", c.ProductLine)
	require.NotNil(t, c.EffectiveEnd)
	assert.True(t, c.EffectiveEnd.Equal(Date(t, "2026-12-31")))

	_, err = s.GetContract(ctx, "missing")
	assert.ErrorIs(t, err, refdata.ErrNotFound)

	all, err := s.ListContracts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.Reset(ctx))
	all, err = s.ListContracts(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
