// Package observability exposes Prometheus metrics for the pricing engine.
package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"claimpricer/internal/core"
	"claimpricer/internal/pricing"
)

// Metrics holds the engine collectors.
type Metrics struct {
	ClaimsPriced    *prometheus.CounterVec
	EngineFaults    prometheus.Counter
	PricingDuration prometheus.Histogram
	LookupMisses    *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. Pass prometheus.DefaultRegisterer
// to expose them on /metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		ClaimsPriced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "claimpricer_claims_priced_total",
			Help: "Claims priced, by outcome",
		}, []string{"outcome"}),
		EngineFaults: factory.NewCounter(prometheus.CounterOpts{
			Name: "claimpricer_engine_faults_total",
			Help: "Claims that ended in an unexpected engine failure",
		}),
		PricingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "claimpricer_pricing_duration_seconds",
			Help:    "Time to price one claim, including reference-data reads",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		LookupMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "claimpricer_lookup_misses_total",
			Help: "Fee schedule lookups that found no entry, by methodology",
		}, []string{"methodology"}),
	}
	// Zero-valued series make absent outcomes visible in dashboards.
	for _, o := range core.Outcomes {
		m.ClaimsPriced.WithLabelValues(string(o))
	}
	return m
}

// ObservePriced records one engine result.
func (m *Metrics) ObservePriced(result *core.PriceResult, elapsed time.Duration) {
	m.ClaimsPriced.WithLabelValues(string(result.Outcome)).Inc()
	if result.Outcome == core.OutcomeFault {
		m.EngineFaults.Inc()
	}
	m.PricingDuration.Observe(elapsed.Seconds())
}

// ObserveLookupMiss records a fee schedule miss.
func (m *Metrics) ObserveLookupMiss(methodology core.Methodology) {
	m.LookupMisses.WithLabelValues(string(methodology)).Inc()
}

// Hooks returns engine hooks that feed these metrics and then call
// onPriced, if set.
func (m *Metrics) Hooks(onPriced func(ctx context.Context, claim core.Claim, result *core.PriceResult, elapsed time.Duration)) pricing.Hooks {
	return pricing.Hooks{
		OnPriced: func(ctx context.Context, claim core.Claim, result *core.PriceResult, elapsed time.Duration) {
			m.ObservePriced(result, elapsed)
			if onPriced != nil {
				onPriced(ctx, claim, result, elapsed)
			}
		},
		OnLookupMiss: m.ObserveLookupMiss,
	}
}
