package refdata_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claimpricer/internal/core"
	"claimpricer/internal/refdata"
	"claimpricer/internal/refdata/refdatatest"
	"claimpricer/internal/storage"
)

func TestMemoryStore(t *testing.T) {
	refdatatest.Run(t, func(t *testing.T) refdata.Store {
		return refdata.NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	refdatatest.Run(t, func(t *testing.T) refdata.Store {
		st, err := storage.New(context.Background(), storage.Config{Type: storage.TypeSQLite, SQLite: storage.SQLiteConfig{Path: filepath.Join(t.TempDir(), "ref.db")}})
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })

		s, err := refdata.New(context.Background(), st)
		require.NoError(t, err)
		return s
	})
}

func TestNew_RequiresStorage(t *testing.T) {
	_, err := refdata.New(context.Background(), nil)
	require.Error(t, err)
}

func TestPutRule_Validation(t *testing.T) {
	ctx := context.Background()
	s := refdata.NewMemoryStore()
	require.NoError(t, s.PutContract(ctx, core.Contract{
		ID: "c-1", OrganizationID: "org-1", Status: core.ContractActive,
	}))

	tests := []struct {
		name  string
		rule  core.PricingRule
		conds []core.Condition
	}{
		{"missing contract id", core.PricingRule{Type: core.RuleTypeBase, Methodology: core.MethodologyFlatRate}, nil},
		{"unknown type", core.PricingRule{ContractID: "c-1", Type: "BONUS", Methodology: core.MethodologyFlatRate}, nil},
		{"unknown methodology", core.PricingRule{ContractID: "c-1", Type: core.RuleTypeBase, Methodology: "CAPITATION"}, nil},
		{"unknown operator", core.PricingRule{ContractID: "c-1", Type: core.RuleTypeBase, Methodology: core.MethodologyFlatRate},
			[]core.Condition{{Attribute: "code", Operator: "NE", Value: "1"}}},
		{"empty attribute", core.PricingRule{ContractID: "c-1", Type: core.RuleTypeBase, Methodology: core.MethodologyFlatRate},
			[]core.Condition{{Operator: core.OperatorEQ, Value: "1"}}},
		{"unknown contract", core.PricingRule{ContractID: "c-9", Type: core.RuleTypeBase, Methodology: core.MethodologyFlatRate}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, s.PutRule(ctx, tt.rule, tt.conds))
		})
	}
}

func TestPutRule_AssignsIdentity(t *testing.T) {
	ctx := context.Background()
	s := refdata.NewMemoryStore()
	require.NoError(t, s.PutContract(ctx, core.Contract{ID: "c-1", OrganizationID: "org-1", Status: core.ContractActive}))

	require.NoError(t, s.PutRule(ctx, core.PricingRule{
		ContractID:  "c-1",
		Type:        core.RuleTypeAddOn,
		Methodology: core.MethodologyFlatRate,
		// An authored score is ignored in favour of the derived one.
		SpecificityScore: 9999,
	}, []core.Condition{{Attribute: "rev_code", Operator: core.OperatorEQ, Value: "0278"}}))

	rules, err := s.ListRules(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.NotEmpty(t, rules[0].ID)
	assert.False(t, rules[0].CreatedAt.IsZero())
	assert.Equal(t, core.RuleActive, rules[0].Status)
	assert.Equal(t, 10, rules[0].SpecificityScore)
}
