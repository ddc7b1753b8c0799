// Package server exposes the pricing engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"claimpricer/internal/core"
	"claimpricer/internal/history"
	"claimpricer/internal/pricing"
	"claimpricer/internal/refdata"
	"claimpricer/internal/score"
)

// Pricer prices claims. *pricing.Engine satisfies it.
type Pricer interface {
	CalculatePrice(ctx context.Context, claim core.Claim) *core.PriceResult
	PriceBatch(ctx context.Context, claims []core.Claim) []*core.PriceResult
	Order() pricing.Order
}

// RuleSource is what the rule inspection endpoint reads.
type RuleSource interface {
	refdata.Reader
	GetContract(ctx context.Context, id string) (core.Contract, error)
}

// HistorySummarizer reports outcome counts from pricing history.
type HistorySummarizer interface {
	Summary(ctx context.Context, since time.Time) (*history.Summary, error)
}

// Handler holds the HTTP handlers
type Handler struct {
	pricer         Pricer
	rules          RuleSource
	history        HistorySummarizer
	batchMaxClaims int
	ready          func(ctx context.Context) error
}

// NewHandler creates a new handler. hist may be nil when history is disabled.
func NewHandler(pricer Pricer, rules RuleSource, hist HistorySummarizer, batchMaxClaims int) *Handler {
	if batchMaxClaims <= 0 {
		batchMaxClaims = DefaultBatchMaxClaims
	}
	return &Handler{
		pricer:         pricer,
		rules:          rules,
		history:        hist,
		batchMaxClaims: batchMaxClaims,
	}
}

// SetReadiness installs a check run by the health endpoint, typically the
// storage ping.
func (h *Handler) SetReadiness(check func(ctx context.Context) error) {
	h.ready = check
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	if h.ready != nil {
		if err := h.ready(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// PriceClaim handles POST /v1/claims/price. Pricing outcomes, faults
// included, are answered with 200 and described by the result itself.
func (h *Handler) PriceClaim(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return handleError(c, err)
	}
	claim, err := DecodeClaim(body)
	if err != nil {
		return handleError(c, core.NewInvalidRequestError(err.Error(), err))
	}

	result := h.pricer.CalculatePrice(c.Request().Context(), claim)
	return c.JSON(http.StatusOK, result)
}

type batchResponse struct {
	Results []*core.PriceResult `json:"results"`
}

// PriceBatch handles POST /v1/claims/price/batch
func (h *Handler) PriceBatch(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return handleError(c, err)
	}
	claims, err := DecodeClaims(body)
	if err != nil {
		return handleError(c, core.NewInvalidRequestError(err.Error(), err))
	}
	if len(claims) == 0 {
		return handleError(c, core.NewInvalidRequestError("claims must not be empty", nil))
	}
	if len(claims) > h.batchMaxClaims {
		return handleError(c, core.NewInvalidRequestError(
			fmt.Sprintf("batch of %d claims exceeds the limit of %d", len(claims), h.batchMaxClaims), nil))
	}

	results := h.pricer.PriceBatch(c.Request().Context(), claims)
	return c.JSON(http.StatusOK, batchResponse{Results: results})
}

type rankedRuleView struct {
	Position    int              `json:"position"`
	Rule        core.PricingRule `json:"rule"`
	Conditions  []core.Condition `json:"conditions"`
	Score       int              `json:"score"`
	StoredScore int              `json:"stored_score"`
	Breakdown   []score.Term     `json:"breakdown"`
}

type rulesResponse struct {
	Contract core.Contract    `json:"contract"`
	AsOf     string           `json:"as_of"`
	Order    pricing.Order    `json:"order"`
	Rules    []rankedRuleView `json:"rules"`
}

// ListRules handles GET /v1/contracts/:id/rules. Rules are listed in the
// order the engine would consider them on the as_of date.
func (h *Handler) ListRules(c echo.Context) error {
	ctx := c.Request().Context()

	asOf := time.Now().UTC().Truncate(24 * time.Hour)
	if raw := c.QueryParam("as_of"); raw != "" {
		d, err := core.ParseDate(raw)
		if err != nil {
			return handleError(c, core.NewInvalidRequestError("as_of must be YYYY-MM-DD", err))
		}
		asOf = d
	}

	contract, err := h.rules.GetContract(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, refdata.ErrNotFound) {
			return handleError(c, core.NewNotFoundError("contract not found: "+c.Param("id")))
		}
		return handleError(c, err)
	}

	rules, err := h.rules.ListApplicableRules(ctx, contract.ID, asOf)
	if err != nil {
		return handleError(c, err)
	}

	ranked := make([]pricing.RankedRule, 0, len(rules))
	for _, r := range rules {
		conds, err := h.rules.GetConditions(ctx, r.ID)
		if err != nil && !errors.Is(err, refdata.ErrNotFound) {
			return handleError(c, err)
		}
		ranked = append(ranked, pricing.RankedRule{Rule: r, Conditions: conds, Score: score.Specificity(conds)})
	}
	pricing.Rank(ranked)
	order := h.pricer.Order()

	views := make([]rankedRuleView, 0, len(ranked))
	for i, r := range pricing.Sequence(ranked, order) {
		_, terms := score.Breakdown(r.Conditions)
		conds := r.Conditions
		if conds == nil {
			conds = []core.Condition{}
		}
		views = append(views, rankedRuleView{
			Position:    i + 1,
			Rule:        r.Rule,
			Conditions:  conds,
			Score:       r.Score,
			StoredScore: r.Rule.SpecificityScore,
			Breakdown:   terms,
		})
	}

	return c.JSON(http.StatusOK, rulesResponse{
		Contract: contract,
		AsOf:     asOf.Format(core.DateLayout),
		Order:    order,
		Rules:    views,
	})
}

type summaryResponse struct {
	Since     time.Time            `json:"since"`
	Total     int                  `json:"total"`
	ByOutcome map[core.Outcome]int `json:"by_outcome"`
}

// HistorySummary handles GET /v1/history/summary?since=RFC3339
func (h *Handler) HistorySummary(c echo.Context) error {
	if h.history == nil {
		return handleError(c, core.NewNotFoundError("pricing history is disabled"))
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if raw := c.QueryParam("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			d, derr := core.ParseDate(raw)
			if derr != nil {
				return handleError(c, core.NewInvalidRequestError("since must be RFC3339 or YYYY-MM-DD", err))
			}
			t = d
		}
		since = t
	}

	summary, err := h.history.Summary(c.Request().Context(), since)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, summaryResponse{
		Since:     since,
		Total:     summary.Total,
		ByOutcome: summary.ByOutcome,
	})
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		var httpErr *echo.HTTPError
		if errors.As(err, &tooLarge) || (errors.As(err, &httpErr) && httpErr.Code == http.StatusRequestEntityTooLarge) {
			return nil, &core.PricingError{
				Kind:       core.ErrorKindInvalidRequest,
				Message:    "request body too large",
				StatusCode: http.StatusRequestEntityTooLarge,
				Err:        err,
			}
		}
		return nil, core.NewInvalidRequestError("failed to read request body", err)
	}
	return body, nil
}

// handleError converts pricing errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var pricingErr *core.PricingError
	if errors.As(err, &pricingErr) {
		return c.JSON(pricingErr.HTTPStatusCode(), pricingErr.ToJSON())
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
