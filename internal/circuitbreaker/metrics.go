package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the breaker Registry (spec §4.6 "Metrics:
// state, totalCalls, rejectedCalls, consecutiveFailures,
// consecutiveSuccesses, failureRate, lastFailureTime, openedCount"),
// grounded on the teacher's internal/circuitbreaker/metrics.go gauge/
// counter set, renamed off the teacher's shannon_ prefix and rewired
// against Registry instead of a package-level GlobalMetricsCollector
// (the redesign in spec §9 forbids ambient singletons).
var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swarmcore_circuit_breaker_state",
			Help: "Current breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"breaker"},
	)

	breakerTotalCalls = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swarmcore_circuit_breaker_total_calls",
			Help: "Lifetime calls observed by the breaker",
		},
		[]string{"breaker"},
	)

	breakerRejectedCalls = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swarmcore_circuit_breaker_rejected_calls",
			Help: "Lifetime calls rejected while the breaker was open or half-open-saturated",
		},
		[]string{"breaker"},
	)

	breakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmcore_circuit_breaker_state_changes_total",
			Help: "Total breaker state transitions",
		},
		[]string{"breaker", "from_state", "to_state"},
	)

	breakerOpenedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmcore_circuit_breaker_opened_total",
			Help: "Total number of times the breaker transitioned into the open state",
		},
		[]string{"breaker"},
	)
)

// ObserveStateChange records a transition for a single breaker; wired as
// a Registry OnStateChange callback alongside publishStateChange so
// Prometheus and the event bus stay in sync.
func ObserveStateChange(name string, from, to State) {
	breakerStateChanges.WithLabelValues(name, from.String(), to.String()).Inc()
	breakerState.WithLabelValues(name).Set(float64(to))
	if to == StateOpen {
		breakerOpenedCount.WithLabelValues(name).Inc()
	}
}

// ExportSnapshot publishes Registry.Snapshot()'s counters to the gauges
// above; callers typically invoke this on a ticker.
func ExportSnapshot(snapshots map[string]Snapshot) {
	for name, s := range snapshots {
		breakerState.WithLabelValues(name).Set(float64(s.State))
		breakerTotalCalls.WithLabelValues(name).Set(float64(s.TotalCalls))
		breakerRejectedCalls.WithLabelValues(name).Set(float64(s.RejectedCalls))
	}
}
