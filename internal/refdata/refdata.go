// Package refdata stores contracts, pricing rules, conditions and fee
// schedules. The pricing engine only ever reads through Reader.
package refdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"claimpricer/internal/core"
	"claimpricer/internal/score"
	"claimpricer/internal/storage"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("refdata: not found")

// Reader is the read-only view the pricing engine needs.
type Reader interface {
	// FindActiveContracts returns every ACTIVE contract for the organization
	// whose effective range covers asOf.
	FindActiveContracts(ctx context.Context, orgID string, asOf time.Time) ([]core.Contract, error)

	// ListApplicableRules returns ACTIVE rules effective on asOf, ordered by
	// stored specificity score descending, then creation time and ID.
	ListApplicableRules(ctx context.Context, contractID string, asOf time.Time) ([]core.PricingRule, error)

	// GetConditions returns a rule's conditions in position order.
	GetConditions(ctx context.Context, ruleID string) ([]core.Condition, error)

	// GetFeeScheduleRate returns ErrNotFound when the code is not in the schedule.
	GetFeeScheduleRate(ctx context.Context, feeScheduleID, code string) (decimal.Decimal, error)
}

// Writer mutates reference data. It is used by seeding and administration,
// never while a claim is being priced.
type Writer interface {
	PutContract(ctx context.Context, c core.Contract) error
	PutFeeSchedule(ctx context.Context, fs core.FeeSchedule) error
	PutFeeScheduleRate(ctx context.Context, r core.FeeScheduleRate) error

	// PutRule inserts or replaces a rule together with its full condition set.
	// The stored specificity score is recomputed from conds.
	PutRule(ctx context.Context, rule core.PricingRule, conds []core.Condition) error

	// SetScore overwrites a rule's persisted specificity score.
	SetScore(ctx context.Context, ruleID string, score int) error

	// Reset removes all reference data.
	Reset(ctx context.Context) error
}

// Catalog lists records for operators.
type Catalog interface {
	GetContract(ctx context.Context, id string) (core.Contract, error)
	ListContracts(ctx context.Context) ([]core.Contract, error)
	// ListRules returns every rule of a contract regardless of status or dates.
	ListRules(ctx context.Context, contractID string) ([]core.PricingRule, error)
}

// Store is a complete reference-data backend.
type Store interface {
	Reader
	Writer
	Catalog
	Close() error
}

// New returns the Store for the given storage backend.
func New(ctx context.Context, store storage.Storage) (Store, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}

	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(ctx, store.SQLiteDB())
	case storage.TypePostgreSQL:
		return NewPostgreSQLStore(ctx, store.PostgreSQLPool())
	case storage.TypeMongoDB:
		return NewMongoDBStore(ctx, store.MongoDatabase())
	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}

// Rescore recomputes one rule's score from its stored conditions and
// persists it. It returns the new score.
func Rescore(ctx context.Context, s Store, ruleID string) (int, error) {
	conds, err := s.GetConditions(ctx, ruleID)
	if err != nil {
		return 0, fmt.Errorf("load conditions for %s: %w", ruleID, err)
	}
	n := score.Specificity(conds)
	if err := s.SetScore(ctx, ruleID, n); err != nil {
		return 0, fmt.Errorf("store score for %s: %w", ruleID, err)
	}
	return n, nil
}

// RescoreResult reports one rule whose persisted score was corrected.
type RescoreResult struct {
	RuleID   string
	OldScore int
	NewScore int
}

// RescoreContract recomputes every rule of a contract and returns the rules
// whose persisted score was stale.
func RescoreContract(ctx context.Context, s Store, contractID string) ([]RescoreResult, error) {
	rules, err := s.ListRules(ctx, contractID)
	if err != nil {
		return nil, err
	}
	var changed []RescoreResult
	for _, r := range rules {
		n, err := Rescore(ctx, s, r.ID)
		if err != nil {
			return changed, err
		}
		if n != r.SpecificityScore {
			changed = append(changed, RescoreResult{RuleID: r.ID, OldScore: r.SpecificityScore, NewScore: n})
		}
	}
	return changed, nil
}

// prepareRule validates a rule and fills derived fields: ID, creation time,
// specificity score and condition ownership.
func prepareRule(rule core.PricingRule, conds []core.Condition) (core.PricingRule, []core.Condition, error) {
	if rule.ContractID == "" {
		return rule, nil, fmt.Errorf("rule contract_id is required")
	}
	if !rule.Type.Valid() {
		return rule, nil, fmt.Errorf("rule %s: unknown rule type %q", rule.ID, rule.Type)
	}
	if !rule.Methodology.Valid() {
		return rule, nil, fmt.Errorf("rule %s: unknown methodology %q", rule.ID, rule.Methodology)
	}
	if rule.Status == "" {
		rule.Status = core.RuleActive
	}
	if !rule.Status.Valid() {
		return rule, nil, fmt.Errorf("rule %s: unknown status %q", rule.ID, rule.Status)
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	// Millisecond precision survives every backend unchanged.
	rule.CreatedAt = rule.CreatedAt.UTC().Truncate(time.Millisecond)

	out := make([]core.Condition, len(conds))
	for i, c := range conds {
		if !c.Operator.Valid() {
			return rule, nil, fmt.Errorf("rule %s: unknown operator %q", rule.ID, c.Operator)
		}
		if c.Attribute == "" {
			return rule, nil, fmt.Errorf("rule %s: condition %d has no attribute", rule.ID, i)
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.RuleID = rule.ID
		c.Position = i
		out[i] = c
	}
	rule.SpecificityScore = score.Specificity(out)
	return rule, out, nil
}

func validateContract(c core.Contract) error {
	if c.ID == "" {
		return fmt.Errorf("contract id is required")
	}
	if c.OrganizationID == "" {
		return fmt.Errorf("contract %s: organization_id is required", c.ID)
	}
	if !c.Status.Valid() {
		return fmt.Errorf("contract %s: unknown status %q", c.ID, c.Status)
	}
	return nil
}

// sortRules applies the store ordering: score desc, created asc, ID asc.
func sortRules(rules []core.PricingRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.SpecificityScore != b.SpecificityScore {
			return a.SpecificityScore > b.SpecificityScore
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func dateString(t time.Time) string {
	return t.UTC().Format(core.DateLayout)
}

func optionalDateString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := dateString(*t)
	return &s
}

func parseOptionalDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := core.ParseDate(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decimalString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseOptionalDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
