package core

import "fmt"

// RuleType controls how a matched rule stacks onto the running total.
type RuleType string

const (
	RuleTypeBase       RuleType = "BASE"
	RuleTypeAddOn      RuleType = "ADD_ON"
	RuleTypeAdjustment RuleType = "ADJUSTMENT"
	RuleTypeCap        RuleType = "CAP"
	RuleTypeStopLoss   RuleType = "STOP_LOSS"
)

// RuleTypes lists every rule type in staged accumulation order.
var RuleTypes = []RuleType{RuleTypeBase, RuleTypeAddOn, RuleTypeAdjustment, RuleTypeStopLoss, RuleTypeCap}

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeBase, RuleTypeAddOn, RuleTypeAdjustment, RuleTypeCap, RuleTypeStopLoss:
		return true
	}
	return false
}

// ParseRuleType converts stored text into a RuleType.
func ParseRuleType(s string) (RuleType, error) {
	t := RuleType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown rule type %q", s)
	}
	return t, nil
}

// Methodology is the price formula a BASE or ADD_ON rule uses.
type Methodology string

const (
	MethodologyFlatRate      Methodology = "FLAT_RATE"
	MethodologyPerDiem       Methodology = "PER_DIEM"
	MethodologyRBRVS         Methodology = "RBRVS"
	MethodologyDRG           Methodology = "DRG"
	MethodologyPercentBilled Methodology = "PERCENT_BILLED"
)

// Valid reports whether m is a known methodology.
func (m Methodology) Valid() bool {
	switch m {
	case MethodologyFlatRate, MethodologyPerDiem, MethodologyRBRVS, MethodologyDRG, MethodologyPercentBilled:
		return true
	}
	return false
}

// ParseMethodology converts stored text into a Methodology.
func ParseMethodology(s string) (Methodology, error) {
	m := Methodology(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown methodology %q", s)
	}
	return m, nil
}

// Operator compares a claim attribute with a condition value.
type Operator string

const (
	OperatorEQ Operator = "EQ"
	OperatorGT Operator = "GT"
	OperatorLT Operator = "LT"
	OperatorIN Operator = "IN"
)

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	switch o {
	case OperatorEQ, OperatorGT, OperatorLT, OperatorIN:
		return true
	}
	return false
}

// ParseOperator converts stored text into an Operator.
func ParseOperator(s string) (Operator, error) {
	o := Operator(s)
	if !o.Valid() {
		return "", fmt.Errorf("unknown operator %q", s)
	}
	return o, nil
}

// ContractStatus is the lifecycle state of a provider contract.
type ContractStatus string

const (
	ContractDraft      ContractStatus = "DRAFT"
	ContractActive     ContractStatus = "ACTIVE"
	ContractTerminated ContractStatus = "TERMINATED"
)

// Valid reports whether s is a known contract status.
func (s ContractStatus) Valid() bool {
	switch s {
	case ContractDraft, ContractActive, ContractTerminated:
		return true
	}
	return false
}

// ParseContractStatus converts stored text into a ContractStatus.
func ParseContractStatus(s string) (ContractStatus, error) {
	cs := ContractStatus(s)
	if !cs.Valid() {
		return "", fmt.Errorf("unknown contract status %q", s)
	}
	return cs, nil
}

// RuleStatus is the lifecycle state of a pricing rule.
type RuleStatus string

const (
	RuleDraft   RuleStatus = "DRAFT"
	RuleActive  RuleStatus = "ACTIVE"
	RuleRetired RuleStatus = "RETIRED"
)

// Valid reports whether s is a known rule status.
func (s RuleStatus) Valid() bool {
	switch s {
	case RuleDraft, RuleActive, RuleRetired:
		return true
	}
	return false
}

// ParseRuleStatus converts stored text into a RuleStatus.
func ParseRuleStatus(s string) (RuleStatus, error) {
	rs := RuleStatus(s)
	if !rs.Valid() {
		return "", fmt.Errorf("unknown rule status %q", s)
	}
	return rs, nil
}

// Outcome says why a result carries the amount it does.
type Outcome string

const (
	OutcomePriced            Outcome = "PRICED"
	OutcomeNoMatch           Outcome = "NO_MATCH"
	OutcomeNoContract        Outcome = "NO_CONTRACT"
	OutcomeAmbiguousContract Outcome = "AMBIGUOUS_CONTRACT"
	OutcomeFault             Outcome = "FAULT"
)

// Outcomes lists every outcome, used to pre-register metric labels.
var Outcomes = []Outcome{OutcomePriced, OutcomeNoMatch, OutcomeNoContract, OutcomeAmbiguousContract, OutcomeFault}

// Status is the coarse OK/ERROR flag on a result. Only faults are ERROR.
type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "ERROR"
)

// StepKind labels one trace step.
type StepKind string

const (
	StepInit     StepKind = "INIT"
	StepContract StepKind = "CONTRACT"
	StepWarn     StepKind = "WARN"
	StepSkip     StepKind = "SKIP"
	StepCalc     StepKind = "CALC"
	StepAccum    StepKind = "ACCUM"
	StepAdjust   StepKind = "ADJUST"
	StepOutlier  StepKind = "OUTLIER"
	StepLimit    StepKind = "LIMIT"
	StepError    StepKind = "ERROR"
	StepStop     StepKind = "STOP"
	StepSuccess  StepKind = "SUCCESS"
	StepCritical StepKind = "CRITICAL"
)
