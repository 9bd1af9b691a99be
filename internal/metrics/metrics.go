// Package metrics holds the Prometheus instruments the engine exposes.
// All collectors are registered with the global registry, so importing
// this package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yanizio/storex/internal/resilience"
)

var (
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storex_cache_hits_total",
			Help: "Cumulative number of memory cache hits.",
		})

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storex_cache_misses_total",
			Help: "Cumulative number of memory cache misses.",
		})

	FetchesStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storex_fetches_started_total",
			Help: "Cumulative number of network fetches started.",
		})

	FetchesSucceededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storex_fetches_succeeded_total",
			Help: "Cumulative number of network fetches that returned a new value.",
		})

	FetchesFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storex_fetches_failed_total",
			Help: "Cumulative number of network fetches that failed.",
		})

	FetchesNotModifiedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storex_fetches_not_modified_total",
			Help: "Cumulative number of conditional fetches answered 304/not-modified.",
		})

	SoTWritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storex_sot_writes_total",
			Help: "Cumulative number of source-of-truth writes performed by the read pipeline.",
		})

	MutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storex_mutations_total",
			Help: "Cumulative number of mutation operations, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	MutationRollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storex_mutation_rollbacks_total",
			Help: "Cumulative number of optimistic mutations rolled back after a failed commit.",
		})

	BreakerStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storex_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open), by breaker name.",
		},
		[]string{"breaker"},
	)

	PageSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storex_page_size",
			Help: "Number of items currently held by a paginated key's loaded window.",
		},
		[]string{"namespace"},
	)
)

func init() {
	prometheus.MustRegister(
		CacheHitsTotal,
		CacheMissesTotal,
		FetchesStartedTotal,
		FetchesSucceededTotal,
		FetchesFailedTotal,
		FetchesNotModifiedTotal,
		SoTWritesTotal,
		MutationsTotal,
		MutationRollbacksTotal,
		BreakerStateGauge,
		PageSize,
	)
}

// SetBreakerState records s under name on BreakerStateGauge. Call this for
// each state change received from a resilience.Breaker's Events channel to
// keep the gauge live.
func SetBreakerState(name string, s resilience.BreakerState) {
	var v float64
	switch s {
	case resilience.StateOpen:
		v = 2
	case resilience.StateHalfOpen:
		v = 1
	default:
		v = 0
	}
	BreakerStateGauge.WithLabelValues(name).Set(v)
}
