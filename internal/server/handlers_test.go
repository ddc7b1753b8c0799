package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claimpricer/internal/core"
	"claimpricer/internal/history"
	"claimpricer/internal/pricing"
	"claimpricer/internal/refdata"
	"claimpricer/internal/seed"
)

// seededHandler prices against the demo dataset.
func seededHandler(t *testing.T, hist HistorySummarizer, batchMax int) *Handler {
	t.Helper()
	ds, err := seed.Demo()
	require.NoError(t, err)
	store := refdata.NewMemoryStore()
	require.NoError(t, ds.Apply(context.Background(), store))
	engine := pricing.New(store, pricing.Options{})
	return NewHandler(engine, store, hist, batchMax)
}

func call(t *testing.T, handler echo.HandlerFunc, method, target, body string, params ...string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) > 0 {
		c.SetParamNames(params[0])
		c.SetParamValues(params[1])
	}
	require.NoError(t, handler(c))
	return rec
}

func TestHealth_Readiness(t *testing.T) {
	tests := []struct {
		name     string
		check    func(context.Context) error
		wantCode int
		wantBody string
	}{
		{"no check", nil, http.StatusOK, `"status":"ok"`},
		{"storage up", func(context.Context) error { return nil }, http.StatusOK, `"status":"ok"`},
		{"storage down", func(context.Context) error { return errors.New("connection refused") }, http.StatusServiceUnavailable, `"error":"connection refused"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(nil, nil, nil, 0)
			h.SetReadiness(tt.check)

			rec := call(t, h.Health, http.MethodGet, "/health", "")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestPriceClaim(t *testing.T) {
	h := seededHandler(t, nil, 0)

	rec := call(t, h.PriceClaim, http.MethodPost, "/v1/claims/price",
		`{"provider_id":"org-ahn","date_of_service":"2026-06-01","code":"99213","billed_amount":500}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result core.PriceResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "127.50", result.AllowedAmount.StringFixed(2))
	assert.Equal(t, core.OutcomePriced, result.Outcome)
	assert.Equal(t, core.StatusOK, result.Status)
	require.NotNil(t, result.AppliedRuleID)
	assert.Equal(t, "rule-office-99213", *result.AppliedRuleID)
	assert.Contains(t, rec.Body.String(), `"allowed_amount":"127.50"`)
}

func TestPriceClaim_NumericAttributes(t *testing.T) {
	h := seededHandler(t, nil, 0)

	rec := call(t, h.PriceClaim, http.MethodPost, "/v1/claims/price",
		`{"provider_id":"org-ahn","date_of_service":"2026-06-01","rev_code":"0124","units":3,"modifier":null}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result core.PriceResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "3750.00", result.AllowedAmount.StringFixed(2))
}

func TestPriceClaim_NoContractIsNotAnHTTPError(t *testing.T) {
	h := seededHandler(t, nil, 0)

	rec := call(t, h.PriceClaim, http.MethodPost, "/v1/claims/price", `{"code":"99213"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result core.PriceResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.AllowedAmount.IsZero())
	assert.Equal(t, core.OutcomeNoContract, result.Outcome)
	assert.Equal(t, core.StatusOK, result.Status)
}

func TestPriceClaim_BadBodies(t *testing.T) {
	h := seededHandler(t, nil, 0)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `code=99213`},
		{"array", `[{"code":"99213"}]`},
		{"nested object", `{"code":{"value":"99213"}}`},
		{"nested array", `{"modifier":["50","51"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := call(t, h.PriceClaim, http.MethodPost, "/v1/claims/price", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "invalid_request_error")
		})
	}
}

func TestPriceBatch(t *testing.T) {
	h := seededHandler(t, nil, 3)

	rec := call(t, h.PriceBatch, http.MethodPost, "/v1/claims/price/batch", `{"claims":[
		{"provider_id":"org-ahn","date_of_service":"2026-06-01","code":"470"},
		{"provider_id":"org-ahn","date_of_service":"2026-06-01","code":"99213","modifier":"50"},
		{"provider_id":"nobody","date_of_service":"2026-06-01","code":"99213"}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []core.PriceResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "20500.00", resp.Results[0].AllowedAmount.StringFixed(2))
	assert.Equal(t, "191.25", resp.Results[1].AllowedAmount.StringFixed(2))
	assert.Equal(t, core.OutcomeNoContract, resp.Results[2].Outcome)
}

func TestPriceBatch_Rejects(t *testing.T) {
	h := seededHandler(t, nil, 2)

	tests := []struct {
		name string
		body string
	}{
		{"missing claims", `{}`},
		{"claims not array", `{"claims":{"code":"99213"}}`},
		{"empty", `{"claims":[]}`},
		{"over limit", `{"claims":[{},{},{}]}`},
		{"bad element", `{"claims":[{"code":"99213"},"99214"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := call(t, h.PriceBatch, http.MethodPost, "/v1/claims/price/batch", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListRules(t *testing.T) {
	h := seededHandler(t, nil, 0)

	rec := call(t, h.ListRules, http.MethodGet, "/v1/contracts/contract-ahn-2026/rules?as_of=2026-06-01", "",
		"id", "contract-ahn-2026")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		AsOf  string `json:"as_of"`
		Order string `json:"order"`
		Rules []struct {
			Position  int `json:"position"`
			Score     int `json:"score"`
			Rule      core.PricingRule
			Breakdown []struct {
				Condition string `json:"condition"`
				Points    int    `json:"points"`
			} `json:"breakdown"`
		} `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2026-06-01", resp.AsOf)
	assert.Equal(t, "score", resp.Order)
	require.NotEmpty(t, resp.Rules)

	first := resp.Rules[0]
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, "rule-office-99213", first.Rule.ID)
	assert.Equal(t, 1000, first.Score)
	require.Len(t, first.Breakdown, 2)
	assert.Equal(t, "code EQ 99213", first.Breakdown[0].Condition)
	assert.Equal(t, 1000, first.Breakdown[0].Points)

	for i := 1; i < len(resp.Rules); i++ {
		assert.GreaterOrEqual(t, resp.Rules[i-1].Score, resp.Rules[i].Score)
	}
}

func TestListRules_Errors(t *testing.T) {
	h := seededHandler(t, nil, 0)

	rec := call(t, h.ListRules, http.MethodGet, "/v1/contracts/missing/rules", "", "id", "missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(t, h.ListRules, http.MethodGet, "/v1/contracts/contract-ahn-2026/rules?as_of=06/01/2026", "",
		"id", "contract-ahn-2026")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeSummarizer struct {
	since   time.Time
	summary *history.Summary
	err     error
}

func (f *fakeSummarizer) Summary(_ context.Context, since time.Time) (*history.Summary, error) {
	f.since = since
	return f.summary, f.err
}

func TestHistorySummary(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h := seededHandler(t, nil, 0)
		rec := call(t, h.HistorySummary, http.MethodGet, "/v1/history/summary", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("counts", func(t *testing.T) {
		fake := &fakeSummarizer{summary: &history.Summary{
			Total:     3,
			ByOutcome: map[core.Outcome]int{core.OutcomePriced: 2, core.OutcomeNoContract: 1},
		}}
		h := seededHandler(t, fake, 0)

		rec := call(t, h.HistorySummary, http.MethodGet, "/v1/history/summary?since=2026-06-01", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), fake.since)
		assert.JSONEq(t, `{"since":"2026-06-01T00:00:00Z","total":3,"by_outcome":{"PRICED":2,"NO_CONTRACT":1}}`, rec.Body.String())
	})

	t.Run("bad since", func(t *testing.T) {
		h := seededHandler(t, &fakeSummarizer{}, 0)
		rec := call(t, h.HistorySummary, http.MethodGet, "/v1/history/summary?since=yesterday", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("store error", func(t *testing.T) {
		h := seededHandler(t, &fakeSummarizer{err: errors.New("db down")}, 0)
		rec := call(t, h.HistorySummary, http.MethodGet, "/v1/history/summary", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "db down")
	})
}
