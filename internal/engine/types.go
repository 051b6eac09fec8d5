// Package engine implements the Execution Engine from spec §4.5: it
// drives an ExecutionPlan level by level, asking the Selector for a
// candidate agent, gating dispatch through the Budget Enforcer and the
// Circuit Breaker, retrying transient failures with backoff, and
// aggregating a TaskResult per subtask into one ExecutionResult.
//
// Grounded on the teacher's internal/workflows package for the overall
// "run a DAG of activities level by level, propagate cancellation,
// aggregate results" shape (there built atop Temporal; here rebuilt
// directly on context.Context plus golang.org/x/sync, per the redesign
// note in §9 that says the concurrency contract should be threads and
// channels, not a durable workflow engine) and on the teacher's
// internal/degradation/partial_results.go for the partial-failure
// aggregation report shape.
package engine

import (
	"context"
	"time"

	"github.com/swarmforge/swarmcore/internal/decomposer"
)

// TaskStatus is one TaskResult's lifecycle state (spec §3).
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusSkipped   TaskStatus = "skipped"
	StatusCancelled TaskStatus = "cancelled"
)

// TaskResult is one subtask's outcome (spec §3).
type TaskResult struct {
	TaskID     string
	Status     TaskStatus
	Result     any
	Err        error
	StartedAt  time.Time
	DurationMs int64
	Attempts   int
	AgentID    string
}

// ExecutionResult aggregates every TaskResult in a plan (spec §3), plus
// the partial-failure report the teacher's degradation package
// contributed: the first task to fail, the agent that was attempting
// it, and whether the failure was circuit-related.
type ExecutionResult struct {
	Results map[string]*TaskResult

	Completed int
	Failed    int
	Cancelled int
	Skipped   int

	StartedAt   time.Time
	CompletedAt time.Time
	DurationMs  int64

	Errors []error

	FirstFailedTaskID string
	FirstFailedAgent  string
	CircuitWasOpen    bool
}

// RetryableErrorFilter classifies an error as transient (worth retrying)
// or fatal. The default implementation consults errkind.Kind.Retryable.
type RetryableErrorFilter func(error) bool

// Policy is submitPlan's configurable behavior (spec §4.5).
type Policy struct {
	RetryAttempts          int
	RetryDelayMs           int
	RetryBackoffMultiplier float64
	ContinueOnFailure      bool
	ConcurrencyLimit       int // 0 means "the level size" (spec default)
	PerTaskTimeout         time.Duration
	RetryableError         RetryableErrorFilter
}

// DefaultPolicy mirrors the spec's stated defaults.
func DefaultPolicy() Policy {
	return Policy{
		RetryAttempts:          3,
		RetryDelayMs:           500,
		RetryBackoffMultiplier: 2.0,
		ContinueOnFailure:      false,
		ConcurrencyLimit:       0,
		PerTaskTimeout:         2 * time.Minute,
	}
}

// Executor dispatches one subtask to a chosen agent and returns its
// opaque result; it MUST observe ctx cancellation cooperatively (spec
// §4.5: "Cancellation is cooperative: the Executor MUST honor the
// token").
type Executor func(ctx context.Context, agentID string, task decomposer.Subtask) (any, error)
