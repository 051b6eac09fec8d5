// Package metrics is the module's closed registry of metric names and
// kinds (spec §9 design note: "a small closed registry of metric names
// and kinds" rather than an open-ended, ad hoc metric surface). Every
// metric here corresponds to an operation named in the spec; there is
// no metric for a concept the module doesn't implement.
//
// Grounded on the teacher's internal/metrics/metrics.go for the
// promauto-registered CounterVec/HistogramVec/GaugeVec shape and the
// RecordX helper-function convention, with the entire Shannon-specific
// metric set (sessions, memory, embeddings, vector search, gRPC,
// chunking) dropped since none of it survives into this module's scope,
// and a new set grounded directly on internal/engine, internal/resolver,
// internal/decomposer, and internal/registry substituted in its place.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PlansSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmcore_plans_submitted_total",
			Help: "Total number of execution plans submitted",
		},
	)

	PlansCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmcore_plans_completed_total",
			Help: "Total number of execution plans completed, by outcome",
		},
		[]string{"outcome"}, // outcome: all_completed, partial_failure, all_failed
	)

	PlanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swarmcore_plan_duration_seconds",
			Help:    "Execution plan wall-clock duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TaskAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmcore_task_attempts_total",
			Help: "Total task dispatch attempts, by outcome",
		},
		[]string{"outcome"}, // outcome: completed, failed, retried
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarmcore_task_duration_seconds",
			Help:    "Per-task dispatch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	DecompositionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarmcore_decomposition_latency_seconds",
			Help:    "Task decomposition latency in seconds, by strategy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	DecompositionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmcore_decomposition_errors_total",
			Help: "Total decomposition errors, by error code",
		},
		[]string{"code"},
	)

	ResolverLevels = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swarmcore_resolver_levels",
			Help:    "Number of levels in a computed ExecutionPlan",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	AgentPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swarmcore_agent_pool_size",
			Help: "Number of registered agents, by status",
		},
		[]string{"status"},
	)

	AgentLivenessEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmcore_agent_liveness_evictions_total",
			Help: "Total agents marked unhealthy by the liveness sweep",
		},
	)

	SelectionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarmcore_selection_latency_seconds",
			Help:    "Candidate selection latency in seconds, by strategy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	BudgetStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swarmcore_budget_status",
			Help: "Current budget status per scope (0=ok, 1=warning, 2=exceeded)",
		},
		[]string{"scope", "key"},
	)

	CostAccrued = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swarmcore_cost_accrued_usd",
			Help: "Live accrued cost per agent in USD",
		},
		[]string{"agent_id"},
	)
)

// RecordPlanCompletion records one finished plan's outcome and duration.
func RecordPlanCompletion(outcome string, durationSeconds float64) {
	PlansCompleted.WithLabelValues(outcome).Inc()
	PlanDuration.Observe(durationSeconds)
}

// RecordTaskOutcome records one task attempt's terminal or retry outcome
// and, for terminal outcomes, its duration.
func RecordTaskOutcome(status, outcome string, durationSeconds float64) {
	TaskAttempts.WithLabelValues(outcome).Inc()
	if durationSeconds > 0 {
		TaskDuration.WithLabelValues(status).Observe(durationSeconds)
	}
}

// RecordDecomposition records one Decompose call's latency, or an error
// code if it failed.
func RecordDecomposition(strategy string, durationSeconds float64, errorCode string) {
	if errorCode != "" {
		DecompositionErrors.WithLabelValues(errorCode).Inc()
		return
	}
	DecompositionLatency.WithLabelValues(strategy).Observe(durationSeconds)
}
