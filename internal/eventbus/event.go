// Package eventbus implements the event substrate from spec §4.8: every
// operation that changes observable state publishes an immutable Event to
// zero or more sinks over a non-blocking channel. It replaces the
// teacher's event-emitter-inheritance style (and its global/per-workflow
// emitters) with a single composable EventBus value per the "no ambient
// globals" redesign note in §9.
package eventbus

import (
	"time"

	"github.com/google/uuid"

	"github.com/swarmforge/swarmcore/internal/correlation"
)

// Metadata is the versioned envelope every event carries so older
// consumers can ignore fields they don't understand (spec §6: "Event
// payloads are versioned ... and MUST be forward-compatible").
type Metadata struct {
	Version       int    `json:"version"`
	CorrelationID string `json:"correlation_id"`
	TraceID       string `json:"trace_id"`
	SpanID        string `json:"span_id"`
	ParentSpanID  string `json:"parent_span_id,omitempty"`
}

// Event is an immutable audit-log record (spec §4.8).
type Event struct {
	ID        string
	Type      string
	SourceID  string
	Timestamp time.Time
	Payload   any
	Metadata  Metadata
}

// CurrentVersion is bumped whenever a backward-incompatible field is
// added to Event or Metadata; consumers should ignore fields beyond what
// they recognize rather than reject unknown versions.
const CurrentVersion = 1

// New builds an Event stamped with a fresh id and the given correlation
// context, current as of now.
func New(now time.Time, eventType, sourceID string, payload any, corr correlation.Context) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SourceID:  sourceID,
		Timestamp: now,
		Payload:   payload,
		Metadata: Metadata{
			Version:       CurrentVersion,
			CorrelationID: corr.CorrelationID,
			TraceID:       corr.TraceID,
			SpanID:        corr.SpanID,
			ParentSpanID:  corr.ParentSpanID,
		},
	}
}

// Well-known topics (spec §6). Subscribers select among them with a
// Filter passed to Bus.Subscribe.
const (
	TopicPlanStarted         = "plan.started"
	TopicPlanCompleted       = "plan.completed"
	TopicPlanAborted         = "plan.aborted"
	TopicTaskStarted         = "task.started"
	TopicTaskCompleted       = "task.completed"
	TopicTaskFailed          = "task.failed"
	TopicTaskSkipped         = "task.skipped"
	TopicTaskRetrying        = "task.retrying"
	TopicTaskCancelled       = "task.cancelled"
	TopicAgentRegistered     = "agent.registered"
	TopicAgentUnregistered   = "agent.unregistered"
	TopicAgentStateChanged   = "agent.state_changed"
	TopicBreakerStateChanged = "breaker.state_changed"
	TopicBudgetWarning       = "budget.warning"
	TopicCostWarning         = "cost.threshold_warning"
	TopicCostExceeded        = "cost.threshold_exceeded"
	TopicRuntimeStopped      = "runtime.stopped"
	TopicShutdownHook        = "shutdown.hook"
)
