package engine

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/swarmforge/swarmcore/internal/budget"
	"github.com/swarmforge/swarmcore/internal/circuitbreaker"
	"github.com/swarmforge/swarmcore/internal/clock"
	"github.com/swarmforge/swarmcore/internal/correlation"
	"github.com/swarmforge/swarmcore/internal/decomposer"
	"github.com/swarmforge/swarmcore/internal/errkind"
	"github.com/swarmforge/swarmcore/internal/eventbus"
	"github.com/swarmforge/swarmcore/internal/registry"
	"github.com/swarmforge/swarmcore/internal/resolver"
	"github.com/swarmforge/swarmcore/internal/strategy"
)

// DefaultRetryableErrorFilter treats errkind-classified TransientNetwork
// errors, plus a small keyword fallback for unclassified errors, as
// worth retrying (spec §4.5: "default: network/timeout keywords").
func DefaultRetryableErrorFilter(err error) bool {
	if err == nil {
		return false
	}
	if kind, ok := errkind.KindOf(err); ok {
		return kind.Retryable()
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "network") || strings.Contains(msg, "connection")
}

// Engine executes ExecutionPlans against a pool of agents reachable
// through the Selector, gated by the Enforcer and the breaker Registry.
type Engine struct {
	selector *registry.Selector
	strat    strategy.Strategy
	breakers *circuitbreaker.Registry
	enforcer *budget.Enforcer
	tracker  *budget.Tracker
	bus      eventPublisher
	clk      clock.Clock
	exec     Executor

	mu     sync.RWMutex
	active map[string]*planState

	dispatchMu sync.Mutex
	dispatches map[string][]*dispatchEntry
}

// dispatchEntry tracks one in-flight Executor call so a forced
// registry.Unregister can reach in and cancel it (spec §3: "forced
// eviction causes all its in-flight tasks to fail with a specific error
// kind").
type dispatchEntry struct {
	cancel context.CancelFunc

	mu      sync.Mutex
	evicted bool
}

func (d *dispatchEntry) markEvicted() {
	d.mu.Lock()
	d.evicted = true
	d.mu.Unlock()
	d.cancel()
}

func (d *dispatchEntry) wasEvicted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.evicted
}

func (e *Engine) registerDispatch(agentID string, cancel context.CancelFunc) *dispatchEntry {
	entry := &dispatchEntry{cancel: cancel}
	e.dispatchMu.Lock()
	e.dispatches[agentID] = append(e.dispatches[agentID], entry)
	e.dispatchMu.Unlock()
	return entry
}

func (e *Engine) unregisterDispatch(agentID string, entry *dispatchEntry) {
	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	entries := e.dispatches[agentID]
	for i, en := range entries {
		if en == entry {
			e.dispatches[agentID] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(e.dispatches[agentID]) == 0 {
		delete(e.dispatches, agentID)
	}
}

// InFlightChecker returns a registry.AgentInFlightChecker backed by this
// Engine's live dispatch table, so a Registry can refuse an unforced
// Unregister while an agent has in-flight work (spec §3).
func (e *Engine) InFlightChecker() registry.AgentInFlightChecker {
	return func(agentID string) int {
		e.dispatchMu.Lock()
		defer e.dispatchMu.Unlock()
		return len(e.dispatches[agentID])
	}
}

// FailInFlight cancels every in-flight dispatch attempt for agentID and
// marks each evicted, so attempt (dispatch.go) reports errkind.Capacity
// instead of a plain cancellation once the Executor unwinds. Pass this as
// a Registry's onForceEvict callback so a forced Unregister actually
// fails the agent's in-flight TaskResults (spec §3).
func (e *Engine) FailInFlight(agentID string) {
	e.dispatchMu.Lock()
	entries := append([]*dispatchEntry(nil), e.dispatches[agentID]...)
	e.dispatchMu.Unlock()
	for _, entry := range entries {
		entry.markEvicted()
	}
}

type eventPublisher interface {
	Publish(eventbus.Event)
}

type planState struct {
	mu      sync.RWMutex
	results map[string]*TaskResult
	cancel  context.CancelFunc
}

// New builds an Engine. strat is the active load-balancing Strategy
// (spec §4.4); exec is the caller-supplied dispatcher.
func New(selector *registry.Selector, strat strategy.Strategy, breakers *circuitbreaker.Registry, enforcer *budget.Enforcer, tracker *budget.Tracker, bus eventPublisher, clk clock.Clock, exec Executor) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Engine{
		selector:   selector,
		strat:      strat,
		breakers:   breakers,
		enforcer:   enforcer,
		tracker:    tracker,
		bus:        bus,
		clk:        clk,
		exec:       exec,
		active:     make(map[string]*planState),
		dispatches: make(map[string][]*dispatchEntry),
	}
}

// SubmitPlan executes plan end-to-end per spec §4.5, using subtasks
// (keyed by id) for the per-task skill/timeout/retry metadata the
// ExecutionPlan itself doesn't carry. Call Cancel(planID) (or cancel the
// parent ctx) to stop scheduling new tasks.
func (e *Engine) SubmitPlan(ctx context.Context, planID string, plan *resolver.ExecutionPlan, subtasks map[string]decomposer.Subtask, policy Policy) (*ExecutionResult, error) {
	if policy.RetryableError == nil {
		policy.RetryableError = DefaultRetryableErrorFilter
	}

	runCtx, cancel := context.WithCancel(ctx)
	state := &planState{results: make(map[string]*TaskResult, len(subtasks)), cancel: cancel}
	e.mu.Lock()
	e.active[planID] = state
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, planID)
		e.mu.Unlock()
	}()

	corr := correlation.New()
	result := &ExecutionResult{Results: state.results, StartedAt: e.clk.Now()}
	e.publish(eventbus.TopicPlanStarted, planID, map[string]any{"planId": planID}, corr)

	for _, st := range subtasks {
		state.results[st.ID] = &TaskResult{TaskID: st.ID, Status: StatusPending}
	}

	completed := make(map[string]bool)
	failedOrCancelled := make(map[string]bool)

	for _, level := range plan.Levels {
		if runCtx.Err() != nil {
			e.cancelRemaining(level.TaskIDs, state, result, corr)
			continue
		}

		toRun, toSkip := e.partitionLevel(level.TaskIDs, subtasks, failedOrCancelled, policy.ContinueOnFailure)
		for _, id := range toSkip {
			e.recordSkip(state, result, id, corr.Child())
			failedOrCancelled[id] = true
		}

		limit := int64(policy.ConcurrencyLimit)
		if limit <= 0 {
			limit = int64(len(toRun))
		}
		if limit <= 0 {
			limit = 1
		}
		sem := semaphore.NewWeighted(limit)

		g, gctx := errgroup.WithContext(runCtx)
		for _, id := range toRun {
			id := id
			task := subtasks[id]
			taskCorr := corr.Child()
			if err := sem.Acquire(runCtx, 1); err != nil {
				e.recordCancel(state, result, id, taskCorr, err)
				failedOrCancelled[id] = true
				continue
			}
			g.Go(func() error {
				defer sem.Release(1)
				tr := e.runTask(gctx, task, policy, taskCorr)
				state.mu.Lock()
				state.results[id] = tr
				state.mu.Unlock()
				switch tr.Status {
				case StatusCompleted:
					completed[id] = true
				case StatusFailed, StatusCancelled:
					failedOrCancelled[id] = true
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	e.finalize(result, state)
	e.publish(eventbus.TopicPlanCompleted, planID, map[string]any{"planId": planID, "completed": result.Completed, "failed": result.Failed}, corr)
	return result, nil
}

// Cancel fires the cancellation token for an in-flight plan; subsequent
// levels stop scheduling, and in-flight tasks observe ctx and are
// expected to terminate cooperatively.
func (e *Engine) Cancel(planID string) bool {
	e.mu.RLock()
	state, ok := e.active[planID]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	state.cancel()
	return true
}

// GetStatus returns a snapshot of the in-flight TaskResult map for
// planID.
func (e *Engine) GetStatus(planID string) (map[string]TaskResult, bool) {
	e.mu.RLock()
	state, ok := e.active[planID]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	out := make(map[string]TaskResult, len(state.results))
	for id, tr := range state.results {
		out[id] = *tr
	}
	return out, true
}

// partitionLevel splits a level's task ids into those to run and those
// to skip, per spec §4.5 step 2: a task whose dependency set intersects
// failedOrCancelled is skipped unless continueOnFailure.
func (e *Engine) partitionLevel(ids []string, subtasks map[string]decomposer.Subtask, failedOrCancelled map[string]bool, continueOnFailure bool) (toRun, toSkip []string) {
	for _, id := range ids {
		st := subtasks[id]
		blocked := false
		for _, dep := range st.Dependencies {
			if failedOrCancelled[dep] {
				blocked = true
				break
			}
		}
		if blocked && !continueOnFailure {
			toSkip = append(toSkip, id)
		} else {
			toRun = append(toRun, id)
		}
	}
	return toRun, toSkip
}

func (e *Engine) recordSkip(state *planState, result *ExecutionResult, id string, corr correlation.Context) {
	state.mu.Lock()
	state.results[id] = &TaskResult{TaskID: id, Status: StatusSkipped}
	state.mu.Unlock()
	e.publish(eventbus.TopicTaskSkipped, id, map[string]any{"taskId": id}, corr)
}

func (e *Engine) recordCancel(state *planState, result *ExecutionResult, id string, corr correlation.Context, err error) {
	state.mu.Lock()
	state.results[id] = &TaskResult{TaskID: id, Status: StatusCancelled, Err: err}
	state.mu.Unlock()
	e.publish(eventbus.TopicTaskCancelled, id, map[string]any{"taskId": id}, corr)
}

func (e *Engine) cancelRemaining(ids []string, state *planState, result *ExecutionResult, corr correlation.Context) {
	for _, id := range ids {
		state.mu.RLock()
		tr, known := state.results[id]
		already := known && tr.Status != StatusPending
		state.mu.RUnlock()
		if already {
			continue
		}
		e.recordCancel(state, result, id, corr.Child(), errkind.Wrap(errkind.Cancellation, "engine.plan_cancelled", errkind.ErrCancelled))
	}
}

// finalize tallies result from state.results and derives the
// partial-failure report.
func (e *Engine) finalize(result *ExecutionResult, state *planState) {
	state.mu.RLock()
	defer state.mu.RUnlock()

	for id, tr := range state.results {
		switch tr.Status {
		case StatusCompleted:
			result.Completed++
		case StatusFailed:
			result.Failed++
			if tr.Err != nil {
				result.Errors = append(result.Errors, tr.Err)
			}
			if result.FirstFailedTaskID == "" {
				result.FirstFailedTaskID = id
				result.FirstFailedAgent = tr.AgentID
				result.CircuitWasOpen = errors.Is(tr.Err, errkind.ErrCircuitOpen) || errors.Is(tr.Err, errkind.ErrAllCircuitsOpen)
			}
		case StatusCancelled:
			result.Cancelled++
		case StatusSkipped:
			result.Skipped++
		}
	}
	result.CompletedAt = e.clk.Now()
	result.DurationMs = result.CompletedAt.Sub(result.StartedAt).Milliseconds()
}

func (e *Engine) publish(topic, sourceID string, payload any, corr correlation.Context) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.New(e.clk.Now(), topic, sourceID, payload, corr))
}
