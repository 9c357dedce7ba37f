// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelineRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_requests_total",
			Help: "Total number of pipeline requests by outcome",
		},
		[]string{"status"}, // completed, cached, degraded, failed
	)

	PipelineRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_requests_in_flight",
			Help: "Number of pipeline executions currently running",
		},
	)

	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pipeline_stage_duration_seconds",
			Help: "Duration of each pipeline stage in seconds",
		},
		[]string{"stage"},
	)

	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Cache lookups and writes by tier and result",
		},
		[]string{"tier", "result"}, // hit, miss, set, error
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "Circuit breaker state per dependency (0 closed, 1 half_open, 2 open)",
		},
		[]string{"dependency"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_transitions_total",
			Help: "Circuit breaker state transitions per dependency",
		},
		[]string{"dependency", "to"},
	)

	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Outbound dependency calls by outcome",
		},
		[]string{"provider", "outcome"}, // success, failure, rejected
	)

	ProviderCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_cost_usd_total",
			Help: "Accumulated provider cost in USD",
		},
		[]string{"provider"},
	)

	BudgetDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budget_denials_total",
			Help: "Cost reservations denied by budget window",
		},
		[]string{"provider", "window"}, // daily, monthly
	)
)
