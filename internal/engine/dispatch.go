package engine

import (
	"context"
	"math"
	"time"

	"github.com/swarmforge/swarmcore/internal/agentmodel"
	"github.com/swarmforge/swarmcore/internal/budget"
	"github.com/swarmforge/swarmcore/internal/circuitbreaker"
	"github.com/swarmforge/swarmcore/internal/correlation"
	"github.com/swarmforge/swarmcore/internal/decomposer"
	"github.com/swarmforge/swarmcore/internal/errkind"
	"github.com/swarmforge/swarmcore/internal/eventbus"
	"github.com/swarmforge/swarmcore/internal/registry"
	"github.com/swarmforge/swarmcore/internal/strategy"
)

// runTask drives one subtask through selection, budget and breaker
// gating, dispatch, and the retry loop (spec §4.5 steps 1 and the
// failure-semantics paragraph).
func (e *Engine) runTask(ctx context.Context, task decomposer.Subtask, policy Policy, corr correlation.Context) *TaskResult {
	tr := &TaskResult{TaskID: task.ID, Status: StatusRunning, StartedAt: e.clk.Now()}
	e.publish(eventbus.TopicTaskStarted, task.ID, map[string]any{"taskId": task.ID}, corr)

	maxAttempts := policy.RetryAttempts + 1
	if task.Retry.MaxAttempts > 0 {
		maxAttempts = task.Retry.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			tr.Status = StatusCancelled
			tr.Err = errkind.Wrap(errkind.Cancellation, "engine.cancelled", errkind.ErrCancelled)
			return e.stamp(tr)
		}

		tr.Attempts++
		agentID, result, err := e.attempt(ctx, task, corr, policy)
		if err == nil {
			tr.Status = StatusCompleted
			tr.Result = result
			tr.AgentID = agentID
			return e.stamp(tr)
		}
		lastErr = err

		if !policy.RetryableError(err) || attempt == maxAttempts-1 {
			tr.Status = StatusFailed
			tr.Err = err
			tr.AgentID = agentID
			e.publish(eventbus.TopicTaskFailed, task.ID, map[string]any{"taskId": task.ID, "error": err.Error()}, corr)
			return e.stamp(tr)
		}

		delayMs := float64(policy.RetryDelayMs)
		if task.Retry.InitialDelayMs > 0 {
			delayMs = float64(task.Retry.InitialDelayMs)
		}
		mult := policy.RetryBackoffMultiplier
		if task.Retry.BackoffMultiplier > 0 {
			mult = task.Retry.BackoffMultiplier
		}
		delay := time.Duration(delayMs*math.Pow(mult, float64(attempt))) * time.Millisecond
		e.publish(eventbus.TopicTaskRetrying, task.ID, map[string]any{"taskId": task.ID, "attempt": attempt + 1, "delayMs": delay.Milliseconds()}, corr)

		done := ctx.Done()
		if err := e.clk.Sleep(delay, done); err != nil {
			tr.Status = StatusCancelled
			tr.Err = errkind.Wrap(errkind.Cancellation, "engine.cancelled_during_backoff", errkind.ErrCancelled)
			return e.stamp(tr)
		}
	}

	tr.Status = StatusFailed
	tr.Err = lastErr
	return e.stamp(tr)
}

func (e *Engine) stamp(tr *TaskResult) *TaskResult {
	tr.DurationMs = e.clk.Now().Sub(tr.StartedAt).Milliseconds()
	return tr
}

// attempt runs exactly one dispatch attempt: select a candidate, gate
// through the breaker and the budget enforcer, then call the Executor
// under a per-task deadline (spec §4.5: "timeout" is one of the engine's
// four defining responsibilities; spec §4.5's submitPlan input "optional
// per-task deadline" is task.TimeoutMs, falling back to
// policy.PerTaskTimeout).
func (e *Engine) attempt(ctx context.Context, task decomposer.Subtask, corr correlation.Context, policy Policy) (agentID string, result any, err error) {
	candidates := e.selector.SelectCandidates(registry.Requirements{
		Skills:   task.RequiredSkills,
		Priority: registry.Priority(task.Priority),
		Affinity: task.ID,
	})
	if len(candidates) == 0 {
		return "", nil, errkind.Wrap(errkind.FatalInput, "engine.no_eligible_agent", errkind.ErrNoEligibleAgent)
	}

	agent, cb := e.pickOpenBreaker(candidates)
	if agent == nil {
		return "", nil, errkind.Wrap(errkind.CircuitOpen, "engine.all_circuits_open", errkind.ErrAllCircuitsOpen)
	}

	if e.enforcer != nil {
		switch e.enforcer.CheckEnforcement(agent.ID, "") {
		case budget.EnforcementStop:
			return agent.ID, nil, errkind.Wrap(errkind.Budget, "engine.budget_exceeded", errkind.ErrBudgetExceeded)
		case budget.EnforcementWarn:
			e.publish(eventbus.TopicBudgetWarning, agent.ID, map[string]any{"agentId": agent.ID, "taskId": task.ID}, corr)
		}
	}

	var session *budget.CostSession
	if e.tracker != nil {
		session = e.tracker.StartSession(agent.ID, budget.RuntimeNative, "")
	}

	timeout := policy.PerTaskTimeout
	if task.TimeoutMs > 0 {
		timeout = time.Duration(task.TimeoutMs) * time.Millisecond
	}
	var dispatchCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		dispatchCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		dispatchCtx, cancel = context.WithCancel(ctx)
	}
	entry := e.registerDispatch(agent.ID, cancel)

	start := e.clk.Now()
	dispatchErr := cb.Execute(func() error {
		r, execErr := e.exec(dispatchCtx, agent.ID, task)
		result = r
		return execErr
	}, nil)
	duration := e.clk.Now().Sub(start)

	evicted := entry.wasEvicted()
	e.unregisterDispatch(agent.ID, entry)
	cancel()

	if session != nil {
		_ = e.tracker.StopSession(agent.ID, session.ID)
	}

	sample := strategy.Sample{DurationMs: float64(duration.Milliseconds()), Success: dispatchErr == nil}
	if e.strat != nil {
		e.strat.UpdateStats(agent.ID, sample)
	}

	if evicted {
		return agent.ID, nil, errkind.Wrap(errkind.Capacity, "engine.agent_evicted", errkind.ErrAgentEvicted)
	}
	if dispatchErr != nil {
		return agent.ID, nil, dispatchErr
	}
	e.publish(eventbus.TopicTaskCompleted, task.ID, map[string]any{"taskId": task.ID, "agentId": agent.ID}, corr)
	return agent.ID, result, nil
}

// pickOpenBreaker scans candidates in order and returns the first whose
// breaker is not open, along with that breaker (spec §4.5: "if open, try
// the next candidate; if all candidates are open, fail").
func (e *Engine) pickOpenBreaker(candidates []*agentmodel.Agent) (*agentmodel.Agent, *circuitbreaker.CircuitBreaker) {
	for _, a := range candidates {
		cb := e.breakers.Get(a.ID)
		if cb.State() != circuitbreaker.StateOpen {
			return a, cb
		}
	}
	return nil, nil
}
