// Package seed loads the demo reference dataset and its verification
// scenarios from embedded YAML.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"claimpricer/internal/core"
	"claimpricer/internal/refdata"
)

//go:embed demo.yaml
var demoYAML []byte

// Epoch is the creation time of the first seeded rule. Each later rule is
// created one second after the previous, so file order breaks score ties.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Dataset is a parsed seed file.
type Dataset struct {
	Contracts    []Contract    `yaml:"contracts"`
	FeeSchedules []FeeSchedule `yaml:"fee_schedules"`
	Rules        []Rule        `yaml:"rules"`
	Scenarios    []Scenario    `yaml:"scenarios"`
}

// Contract is a seeded contract.
type Contract struct {
	ID           string `yaml:"id"`
	Organization string `yaml:"organization"`
	Name         string `yaml:"name"`
	ProductLine  string `yaml:"product_line"`
	Status       string `yaml:"status"`
	Start        string `yaml:"start"`
	End          string `yaml:"end"`
}

// FeeSchedule is a seeded fee schedule with its code rates.
type FeeSchedule struct {
	ID     string            `yaml:"id"`
	Name   string            `yaml:"name"`
	Source string            `yaml:"source"`
	Start  string            `yaml:"start"`
	Rates  map[string]string `yaml:"rates"`
}

// Rule is a seeded pricing rule. Contract defaults to the first contract.
type Rule struct {
	ID          string      `yaml:"id"`
	Contract    string      `yaml:"contract"`
	Description string      `yaml:"description"`
	Type        string      `yaml:"type"`
	Methodology string      `yaml:"methodology"`
	Status      string      `yaml:"status"`
	Start       string      `yaml:"start"`
	End         string      `yaml:"end"`
	FeeSchedule string      `yaml:"fee_schedule"`
	Multiplier  string      `yaml:"multiplier"`
	FlatRate    string      `yaml:"flat_rate"`
	Threshold   string      `yaml:"threshold"`
	Conditions  []Condition `yaml:"conditions"`
}

// Condition is one seeded rule condition.
type Condition struct {
	Attribute string `yaml:"attribute"`
	Operator  string `yaml:"operator"`
	Value     string `yaml:"value"`
}

// Scenario is a claim with its expected allowed amount and outcome.
type Scenario struct {
	Name     string            `yaml:"name"`
	Claim    map[string]string `yaml:"claim"`
	Expected string            `yaml:"expected"`
	Outcome  string            `yaml:"outcome"`
}

// Demo returns the embedded demo dataset.
func Demo() (*Dataset, error) {
	return Parse(demoYAML)
}

// Parse decodes a seed file.
func Parse(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parse seed data: %w", err)
	}
	if len(ds.Contracts) == 0 {
		return nil, fmt.Errorf("seed data has no contracts")
	}
	return &ds, nil
}

// Apply writes the dataset through w. Existing records with the same IDs
// are replaced; nothing else is removed.
func (ds *Dataset) Apply(ctx context.Context, w refdata.Writer) error {
	for _, c := range ds.Contracts {
		contract, err := c.toCore()
		if err != nil {
			return err
		}
		if err := w.PutContract(ctx, contract); err != nil {
			return fmt.Errorf("contract %s: %w", c.ID, err)
		}
	}

	for _, fs := range ds.FeeSchedules {
		start, err := core.ParseDate(fs.Start)
		if err != nil {
			return fmt.Errorf("fee schedule %s: start: %w", fs.ID, err)
		}
		if err := w.PutFeeSchedule(ctx, core.FeeSchedule{
			ID:             fs.ID,
			Name:           fs.Name,
			Source:         fs.Source,
			EffectiveStart: start,
		}); err != nil {
			return fmt.Errorf("fee schedule %s: %w", fs.ID, err)
		}
		for code, raw := range fs.Rates {
			amount, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("fee schedule %s code %s: %w", fs.ID, code, err)
			}
			if err := w.PutFeeScheduleRate(ctx, core.FeeScheduleRate{
				FeeScheduleID: fs.ID,
				Code:          code,
				Amount:        amount,
			}); err != nil {
				return fmt.Errorf("fee schedule %s code %s: %w", fs.ID, code, err)
			}
		}
	}

	for i, r := range ds.Rules {
		rule, conds, err := r.toCore(ds.Contracts[0].ID, Epoch.Add(time.Duration(i)*time.Second))
		if err != nil {
			return err
		}
		if err := w.PutRule(ctx, rule, conds); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	return nil
}

func (c Contract) toCore() (core.Contract, error) {
	status := core.ContractActive
	if c.Status != "" {
		s, err := core.ParseContractStatus(c.Status)
		if err != nil {
			return core.Contract{}, fmt.Errorf("contract %s: %w", c.ID, err)
		}
		status = s
	}
	start, end, err := dateRange(c.Start, c.End)
	if err != nil {
		return core.Contract{}, fmt.Errorf("contract %s: %w", c.ID, err)
	}
	return core.Contract{
		ID:             c.ID,
		OrganizationID: c.Organization,
		Name:           c.Name,
		ProductLine:    c.ProductLine,
		Status:         status,
		EffectiveStart: start,
		EffectiveEnd:   end,
	}, nil
}

func (r Rule) toCore(defaultContract string, createdAt time.Time) (core.PricingRule, []core.Condition, error) {
	fail := func(err error) (core.PricingRule, []core.Condition, error) {
		return core.PricingRule{}, nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}

	ruleType, err := core.ParseRuleType(r.Type)
	if err != nil {
		return fail(err)
	}
	methodology, err := core.ParseMethodology(r.Methodology)
	if err != nil {
		return fail(err)
	}
	status := core.RuleActive
	if r.Status != "" {
		if status, err = core.ParseRuleStatus(r.Status); err != nil {
			return fail(err)
		}
	}
	start := r.Start
	if start == "" {
		start = Epoch.Format(core.DateLayout)
	}
	from, to, err := dateRange(start, r.End)
	if err != nil {
		return fail(err)
	}

	rule := core.PricingRule{
		ID:             r.ID,
		ContractID:     r.Contract,
		Description:    r.Description,
		Type:           ruleType,
		Methodology:    methodology,
		Status:         status,
		EffectiveStart: from,
		EffectiveEnd:   to,
		FeeScheduleID:  r.FeeSchedule,
		CreatedAt:      createdAt,
	}
	if rule.ContractID == "" {
		rule.ContractID = defaultContract
	}
	for _, f := range []struct {
		raw string
		dst **decimal.Decimal
	}{
		{r.Multiplier, &rule.Multiplier},
		{r.FlatRate, &rule.FlatRate},
		{r.Threshold, &rule.ThresholdAmount},
	} {
		if f.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fail(err)
		}
		*f.dst = &d
	}

	conds := make([]core.Condition, 0, len(r.Conditions))
	for _, c := range r.Conditions {
		op, err := core.ParseOperator(c.Operator)
		if err != nil {
			return fail(err)
		}
		conds = append(conds, core.Condition{Attribute: c.Attribute, Operator: op, Value: c.Value})
	}
	return rule, conds, nil
}

func dateRange(start, end string) (time.Time, *time.Time, error) {
	from, err := core.ParseDate(start)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("start: %w", err)
	}
	if end == "" {
		return from, nil, nil
	}
	to, err := core.ParseDate(end)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("end: %w", err)
	}
	return from, &to, nil
}
