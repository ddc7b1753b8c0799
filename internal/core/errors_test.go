package core

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestPricingError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *PricingError
		expected string
	}{
		{
			name:     "without cause",
			err:      &PricingError{Kind: ErrorKindInvalidRequest, Message: "bad claim"},
			expected: "invalid_request_error: bad claim",
		},
		{
			name:     "with cause",
			err:      &PricingError{Kind: ErrorKindEngineFault, Message: "rule fetch failed", Err: errors.New("db closed")},
			expected: "engine_fault: rule fetch failed: db closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestPricingError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      *PricingError
		expected int
	}{
		{"explicit status code", &PricingError{Kind: ErrorKindEngineFault, StatusCode: http.StatusServiceUnavailable}, http.StatusServiceUnavailable},
		{"invalid request default", &PricingError{Kind: ErrorKindInvalidRequest}, http.StatusBadRequest},
		{"authentication default", &PricingError{Kind: ErrorKindAuthentication}, http.StatusUnauthorized},
		{"not found default", &PricingError{Kind: ErrorKindNotFound}, http.StatusNotFound},
		{"no contract", &PricingError{Kind: ErrorKindNoContract}, http.StatusNotFound},
		{"ambiguous contract", &PricingError{Kind: ErrorKindAmbiguousContract}, http.StatusConflict},
		{"engine fault", &PricingError{Kind: ErrorKindEngineFault}, http.StatusInternalServerError},
		{"unknown kind", &PricingError{Kind: ErrorKind("unknown")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.expected {
				t.Errorf("HTTPStatusCode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestPricingError_ToJSON(t *testing.T) {
	err := NewAmbiguousContractError("org-1", "2026-06-01", []string{"c-1", "c-2"})

	result := err.ToJSON()
	body, ok := result["error"].(map[string]interface{})
	if !ok {
		t.Fatal("ToJSON() should return map with 'error' key")
	}
	if body["type"] != ErrorKindAmbiguousContract {
		t.Errorf("type = %v, want %v", body["type"], ErrorKindAmbiguousContract)
	}
	if body["message"] != "2 active contracts for organization org-1 on 2026-06-01" {
		t.Errorf("message = %v", body["message"])
	}
	if _, ok := body["candidates"]; !ok {
		t.Error("candidates should be present for ambiguous contracts")
	}
}

func TestIsKind(t *testing.T) {
	cause := errors.New("no rows")
	miss := NewLookupMissError("fs-1", "99213", cause)
	wrapped := fmt.Errorf("rbrvs: %w", miss)

	if !IsKind(wrapped, ErrorKindLookupMiss) {
		t.Error("IsKind should see through wrapping")
	}
	if IsKind(wrapped, ErrorKindEngineFault) {
		t.Error("IsKind matched the wrong kind")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is should reach the original cause")
	}
	if IsKind(cause, ErrorKindLookupMiss) {
		t.Error("plain errors have no kind")
	}
}
