package seed

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claimpricer/internal/core"
	"claimpricer/internal/pricing"
	"claimpricer/internal/refdata"
	"claimpricer/internal/score"
)

func seededStore(t *testing.T) *refdata.MemoryStore {
	t.Helper()
	ds, err := Demo()
	require.NoError(t, err)
	store := refdata.NewMemoryStore()
	require.NoError(t, ds.Apply(context.Background(), store))
	return store
}

func TestDemo_Parses(t *testing.T) {
	ds, err := Demo()
	require.NoError(t, err)

	assert.Len(t, ds.Contracts, 1)
	assert.Equal(t, "org-ahn", ds.Contracts[0].Organization)
	require.Len(t, ds.FeeSchedules, 1)
	assert.Equal(t, "85.00", ds.FeeSchedules[0].Rates["99213"])
	assert.NotEmpty(t, ds.Rules)
	assert.NotEmpty(t, ds.Scenarios)
}

func TestApply_ScoresDerivedFromConditions(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	rules, err := store.ListRules(ctx, "contract-ahn-2026")
	require.NoError(t, err)

	ds, err := Demo()
	require.NoError(t, err)
	require.Len(t, rules, len(ds.Rules))

	for _, r := range rules {
		conds, err := store.GetConditions(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, score.Specificity(conds), r.SpecificityScore, r.ID)
	}
}

func TestApply_Idempotent(t *testing.T) {
	store := seededStore(t)
	ds, err := Demo()
	require.NoError(t, err)

	require.NoError(t, ds.Apply(context.Background(), store))

	rules, err := store.ListRules(context.Background(), "contract-ahn-2026")
	require.NoError(t, err)
	assert.Len(t, rules, len(ds.Rules))
}

func TestScenarios(t *testing.T) {
	store := seededStore(t)
	ds, err := Demo()
	require.NoError(t, err)

	for _, order := range []pricing.Order{pricing.OrderScore, pricing.OrderStaged} {
		t.Run(string(order), func(t *testing.T) {
			engine := pricing.New(store, pricing.Options{Order: order})
			checks := ds.Verify(context.Background(), engine)
			for _, c := range checks {
				assert.True(t, c.Pass, "%s: %s", c.Scenario.Name, c.Reason)
			}
			assert.Equal(t, len(checks), Passed(checks))
		})
	}
}

func TestScenarios_KneeTrace(t *testing.T) {
	engine := pricing.New(seededStore(t), pricing.Options{})

	result := engine.CalculatePrice(context.Background(), core.Claim{
		core.AttrProviderID:    "org-ahn",
		core.AttrDateOfService: "2026-06-01",
		core.AttrCode:          "27447",
	})

	require.NotNil(t, result.AppliedRuleID)
	assert.Equal(t, "rule-knee-27447", *result.AppliedRuleID)

	var limit *core.Step
	for i := range result.Trace {
		if result.Trace[i].Kind == core.StepLimit {
			limit = &result.Trace[i]
		}
	}
	require.NotNil(t, limit)
	assert.Equal(t, "Price capped at $1500.00 (Reduced by $375.00)", limit.Message)
}

func TestCheck(t *testing.T) {
	priced := &core.PriceResult{
		AllowedAmount: decimal.RequireFromString("127.50"),
		Status:        core.StatusOK,
		Outcome:       core.OutcomePriced,
	}

	tests := []struct {
		name     string
		scenario Scenario
		pass     bool
	}{
		{"match", Scenario{Expected: "127.5", Outcome: "PRICED"}, true},
		{"outcome optional", Scenario{Expected: "127.50"}, true},
		{"amount differs", Scenario{Expected: "191.25"}, false},
		{"outcome differs", Scenario{Expected: "127.50", Outcome: "NO_MATCH"}, false},
		{"bad expected", Scenario{Expected: "lots"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.scenario.check(priced)
			assert.Equal(t, tt.pass, c.Pass, c.Reason)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("contracts: []\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("contracts: [\n"))
	assert.Error(t, err)
}

func TestApply_RejectsBadRule(t *testing.T) {
	ds, err := Parse([]byte(`
contracts:
  - {id: c1, organization: o1, name: C1, start: "2026-01-01"}
rules:
  - {id: r1, type: BONUS, methodology: FLAT_RATE, flat_rate: "1"}
`))
	require.NoError(t, err)

	err = ds.Apply(context.Background(), refdata.NewMemoryStore())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "r1")
}
