// Package score derives a pricing rule's specificity from its conditions.
// The score is never authored; it is always recomputed from the condition set.
package score

import (
	"claimpricer/internal/core"
)

// Condition weights. Attributes not listed score zero.
const (
	WeightCodeExact  = 1000
	WeightCodeRange  = 100
	WeightModifier   = 500
	WeightRevCode    = 10
	WeightProviderID = 5
)

// Weight returns the points one condition contributes.
func Weight(c core.Condition) int {
	switch c.Attribute {
	case core.AttrCode:
		if c.Operator == core.OperatorEQ {
			return WeightCodeExact
		}
		return WeightCodeRange
	case core.AttrModifier:
		return WeightModifier
	case core.AttrRevCode:
		return WeightRevCode
	case core.AttrProviderID:
		return WeightProviderID
	default:
		return 0
	}
}

// Specificity sums the condition weights. A rule with no conditions scores 0.
func Specificity(conds []core.Condition) int {
	total := 0
	for _, c := range conds {
		total += Weight(c)
	}
	return total
}

// Term is one condition's contribution, for operator-facing explanations.
type Term struct {
	Condition string `json:"condition"`
	Points    int    `json:"points"`
}

// Breakdown returns the per-condition terms alongside the total.
func Breakdown(conds []core.Condition) (int, []Term) {
	terms := make([]Term, 0, len(conds))
	total := 0
	for _, c := range conds {
		w := Weight(c)
		total += w
		terms = append(terms, Term{Condition: c.String(), Points: w})
	}
	return total, terms
}
