package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"claimpricer/internal/core"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	var forwarded int
	hooks := m.Hooks(func(context.Context, core.Claim, *core.PriceResult, time.Duration) { forwarded++ })

	priced := &core.PriceResult{AllowedAmount: decimal.NewFromInt(10), Outcome: core.OutcomePriced, Status: core.StatusOK}
	fault := &core.PriceResult{AllowedAmount: decimal.Zero, Outcome: core.OutcomeFault, Status: core.StatusError}

	hooks.OnPriced(context.Background(), core.Claim{}, priced, time.Millisecond)
	hooks.OnPriced(context.Background(), core.Claim{}, priced, time.Millisecond)
	hooks.OnPriced(context.Background(), core.Claim{}, fault, time.Millisecond)
	hooks.OnLookupMiss(core.MethodologyRBRVS)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ClaimsPriced.WithLabelValues("PRICED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClaimsPriced.WithLabelValues("FAULT")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ClaimsPriced.WithLabelValues("NO_MATCH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineFaults))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LookupMisses.WithLabelValues("RBRVS")))
	assert.Equal(t, 3, forwarded)
	assert.Equal(t, 1, testutil.CollectAndCount(m.PricingDuration))

	// Every outcome is pre-registered.
	assert.Equal(t, len(core.Outcomes), testutil.CollectAndCount(m.ClaimsPriced))
}
