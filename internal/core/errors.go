// Package core holds the claim pricing domain types and error taxonomy.
package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a pricing error.
type ErrorKind string

const (
	// ErrorKindNoContract means no ACTIVE contract covers the provider and date.
	ErrorKindNoContract ErrorKind = "no_contract"
	// ErrorKindAmbiguousContract means more than one ACTIVE contract covers the date.
	ErrorKindAmbiguousContract ErrorKind = "ambiguous_contract"
	// ErrorKindConditionFailure is a missing or unparsable claim attribute.
	ErrorKindConditionFailure ErrorKind = "condition_failure"
	// ErrorKindLookupMiss is a fee schedule rate or weight that does not exist.
	ErrorKindLookupMiss ErrorKind = "lookup_miss"
	// ErrorKindEngineFault is anything unexpected. It is the only kind worth alerting on.
	ErrorKindEngineFault ErrorKind = "engine_fault"
	// ErrorKindInvalidRequest indicates a client error (400)
	ErrorKindInvalidRequest ErrorKind = "invalid_request_error"
	// ErrorKindNotFound indicates a not found error (404)
	ErrorKindNotFound ErrorKind = "not_found_error"
	// ErrorKindAuthentication indicates an authentication error (401)
	ErrorKindAuthentication ErrorKind = "authentication_error"
)

// PricingError is the base error type for the pricing service.
type PricingError struct {
	Kind       ErrorKind `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	// Candidates lists contract IDs for ambiguous resolution.
	Candidates []string `json:"candidates,omitempty"`
	Err        error    `json:"-"`
}

// Error implements the error interface
func (e *PricingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *PricingError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the status code a transport should answer with.
func (e *PricingError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Kind {
	case ErrorKindInvalidRequest, ErrorKindConditionFailure:
		return http.StatusBadRequest
	case ErrorKindAuthentication:
		return http.StatusUnauthorized
	case ErrorKindNotFound, ErrorKindNoContract:
		return http.StatusNotFound
	case ErrorKindAmbiguousContract:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *PricingError) ToJSON() map[string]interface{} {
	body := map[string]interface{}{
		"type":    e.Kind,
		"message": e.Message,
	}
	if len(e.Candidates) > 0 {
		body["candidates"] = e.Candidates
	}
	return map[string]interface{}{"error": body}
}

// NewNoContractError reports that no contract covers the organization on date.
func NewNoContractError(orgID, date string) *PricingError {
	return &PricingError{
		Kind:    ErrorKindNoContract,
		Message: fmt.Sprintf("no active contract for organization %s on %s", orgID, date),
	}
}

// NewAmbiguousContractError reports overlapping ACTIVE contracts.
func NewAmbiguousContractError(orgID, date string, candidates []string) *PricingError {
	return &PricingError{
		Kind:       ErrorKindAmbiguousContract,
		Message:    fmt.Sprintf("%d active contracts for organization %s on %s", len(candidates), orgID, date),
		Candidates: candidates,
	}
}

// NewLookupMissError reports a missing fee schedule entry.
func NewLookupMissError(feeScheduleID, code string, err error) *PricingError {
	return &PricingError{
		Kind:    ErrorKindLookupMiss,
		Message: fmt.Sprintf("code %q not found in fee schedule %s", code, feeScheduleID),
		Err:     err,
	}
}

// NewEngineFault wraps an unexpected failure.
func NewEngineFault(message string, err error) *PricingError {
	return &PricingError{
		Kind:    ErrorKindEngineFault,
		Message: message,
		Err:     err,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *PricingError {
	return &PricingError{
		Kind:       ErrorKindInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *PricingError {
	return &PricingError{
		Kind:       ErrorKindNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(message string) *PricingError {
	return &PricingError{
		Kind:       ErrorKindAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// IsKind reports whether err is a PricingError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *PricingError
	return errors.As(err, &pe) && pe.Kind == kind
}
