package pricing

import (
	"fmt"
	"strconv"
	"strings"

	"claimpricer/internal/core"
)

// ConditionFailure describes the first condition of a rule that did not hold.
type ConditionFailure struct {
	Condition  core.Condition
	ClaimValue string
	Missing    bool
}

func (f ConditionFailure) String() string {
	c := f.Condition
	if f.Missing {
		return fmt.Sprintf("Failed %s (missing on claim, wanted %s %s)", c.Attribute, c.Operator, c.Value)
	}
	return fmt.Sprintf("Failed %s (%s %s %s)", c.Attribute, f.ClaimValue, c.Operator, c.Value)
}

// EvaluateConditions reports whether every condition holds for claim. It
// stops at the first failure and returns it. No conditions means a match.
func EvaluateConditions(conds []core.Condition, claim core.Claim) (bool, *ConditionFailure) {
	for _, c := range conds {
		if ok, failure := MatchCondition(c, claim); !ok {
			return false, failure
		}
	}
	return true, nil
}

// MatchCondition tests a single condition. A missing network_status is read
// as in-network; any other missing attribute fails.
func MatchCondition(c core.Condition, claim core.Claim) (bool, *ConditionFailure) {
	value, ok := claim.Get(c.Attribute)
	if !ok {
		if c.Attribute != core.AttrNetworkStatus {
			return false, &ConditionFailure{Condition: c, Missing: true}
		}
		value = core.DefaultNetworkStatus
	}

	var matched bool
	switch c.Operator {
	case core.OperatorEQ:
		matched = value == c.Value
	case core.OperatorGT:
		matched = compareNumeric(value, c.Value, func(a, b float64) bool { return a > b })
	case core.OperatorLT:
		matched = compareNumeric(value, c.Value, func(a, b float64) bool { return a < b })
	case core.OperatorIN:
		for _, candidate := range strings.Split(c.Value, ",") {
			if value == candidate {
				matched = true
				break
			}
		}
	default:
		matched = false
	}

	if !matched {
		return false, &ConditionFailure{Condition: c, ClaimValue: value}
	}
	return true, nil
}

// compareNumeric is false whenever either side is not a number.
func compareNumeric(claimValue, ruleValue string, cmp func(a, b float64) bool) bool {
	a, err := strconv.ParseFloat(strings.TrimSpace(claimValue), 64)
	if err != nil {
		return false
	}
	b, err := strconv.ParseFloat(strings.TrimSpace(ruleValue), 64)
	if err != nil {
		return false
	}
	return cmp(a, b)
}
