package refdata

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"claimpricer/internal/core"
)

type rateKey struct {
	feeScheduleID string
	code          string
}

// MemoryStore keeps reference data in process. It backs tests and the
// CLI's dry-run mode.
type MemoryStore struct {
	mu           sync.RWMutex
	contracts    map[string]core.Contract
	feeSchedules map[string]core.FeeSchedule
	rates        map[rateKey]decimal.Decimal
	rules        map[string]core.PricingRule
	conditions   map[string][]core.Condition
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.reset()
	return s
}

func (s *MemoryStore) reset() {
	s.contracts = make(map[string]core.Contract)
	s.feeSchedules = make(map[string]core.FeeSchedule)
	s.rates = make(map[rateKey]decimal.Decimal)
	s.rules = make(map[string]core.PricingRule)
	s.conditions = make(map[string][]core.Condition)
}

func (s *MemoryStore) FindActiveContracts(_ context.Context, orgID string, asOf time.Time) ([]core.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Contract
	for _, c := range s.contracts {
		if c.OrganizationID == orgID && c.Status == core.ContractActive && c.Covers(asOf) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListApplicableRules(_ context.Context, contractID string, asOf time.Time) ([]core.PricingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.PricingRule
	for _, r := range s.rules {
		if r.ContractID == contractID && r.Status == core.RuleActive && r.EffectiveOn(asOf) {
			out = append(out, r)
		}
	}
	sortRules(out)
	return out, nil
}

func (s *MemoryStore) GetConditions(_ context.Context, ruleID string) ([]core.Condition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conds := s.conditions[ruleID]
	out := make([]core.Condition, len(conds))
	copy(out, conds)
	return out, nil
}

func (s *MemoryStore) GetFeeScheduleRate(_ context.Context, feeScheduleID, code string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	amount, ok := s.rates[rateKey{feeScheduleID, code}]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	return amount, nil
}

func (s *MemoryStore) PutContract(_ context.Context, c core.Contract) error {
	if err := validateContract(c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[c.ID] = c
	return nil
}

func (s *MemoryStore) PutFeeSchedule(_ context.Context, fs core.FeeSchedule) error {
	if fs.ID == "" {
		return fmt.Errorf("fee schedule id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeSchedules[fs.ID] = fs
	return nil
}

func (s *MemoryStore) PutFeeScheduleRate(_ context.Context, r core.FeeScheduleRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.feeSchedules[r.FeeScheduleID]; !ok {
		return fmt.Errorf("fee schedule %s: %w", r.FeeScheduleID, ErrNotFound)
	}
	s.rates[rateKey{r.FeeScheduleID, r.Code}] = r.Amount
	return nil
}

func (s *MemoryStore) PutRule(_ context.Context, rule core.PricingRule, conds []core.Condition) error {
	rule, conds, err := prepareRule(rule, conds)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contracts[rule.ContractID]; !ok {
		return fmt.Errorf("contract %s: %w", rule.ContractID, ErrNotFound)
	}
	s.rules[rule.ID] = rule
	s.conditions[rule.ID] = conds
	return nil
}

func (s *MemoryStore) SetScore(_ context.Context, ruleID string, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return fmt.Errorf("rule %s: %w", ruleID, ErrNotFound)
	}
	r.SpecificityScore = score
	s.rules[ruleID] = r
	return nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

func (s *MemoryStore) GetContract(_ context.Context, id string) (core.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[id]
	if !ok {
		return core.Contract{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) ListContracts(_ context.Context) ([]core.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Contract, 0, len(s.contracts))
	for _, c := range s.contracts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListRules(_ context.Context, contractID string) ([]core.PricingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.PricingRule
	for _, r := range s.rules {
		if r.ContractID == contractID {
			out = append(out, r)
		}
	}
	sortRules(out)
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
