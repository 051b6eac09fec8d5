package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swarmforge/swarmcore/internal/agentmodel"
	"github.com/swarmforge/swarmcore/internal/budget"
	"github.com/swarmforge/swarmcore/internal/circuitbreaker"
	"github.com/swarmforge/swarmcore/internal/clock"
	"github.com/swarmforge/swarmcore/internal/decomposer"
	"github.com/swarmforge/swarmcore/internal/errkind"
	"github.com/swarmforge/swarmcore/internal/eventbus"
	"github.com/swarmforge/swarmcore/internal/registry"
	"github.com/swarmforge/swarmcore/internal/resolver"
	"github.com/swarmforge/swarmcore/internal/strategy"
)

type harness struct {
	engine *Engine
	reg    *registry.Registry
	fc     *clock.Fake
	rec    *eventbus.Recorder
}

func newHarness(t *testing.T, exec Executor) *harness {
	t.Helper()
	fc := clock.NewFake(time.Unix(0, 0))
	rec := eventbus.NewRecorder()
	reg := registry.New(zap.NewNop(), nil, registry.WithClock(fc))
	sel := registry.NewSelector(reg, strategy.NewRoundRobin())
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{FailureThreshold: 2, SuccessThreshold: 1, ResetTimeout: time.Second, HalfOpenMaxCalls: 1}, zap.NewNop(), rec, fc)
	rates := budget.NewRateTable(map[string]budget.Rate{"native": {PerHour: 0}})
	tracker := budget.NewTracker(rates, fc)
	enforcer := budget.NewEnforcer(tracker, rec, fc)

	eng := New(sel, strategy.NewRoundRobin(), breakers, enforcer, tracker, rec, fc, exec)
	return &harness{engine: eng, reg: reg, fc: fc, rec: rec}
}

func registerIdleAgent(t *testing.T, h *harness, id string, skills ...string) *agentmodel.Agent {
	t.Helper()
	caps := agentmodel.Capabilities{Skills: map[string]bool{}}
	for _, s := range skills {
		caps.Skills[s] = true
	}
	a := agentmodel.New(id, caps)
	require.NoError(t, h.reg.Register(a))
	return a
}

func linearPlan(t *testing.T, subtasks map[string]decomposer.Subtask) *resolver.ExecutionPlan {
	t.Helper()
	nodes := make([]resolver.Node, 0, len(subtasks))
	for _, st := range subtasks {
		nodes = append(nodes, resolver.Node{ID: st.ID, Dependencies: st.Dependencies})
	}
	r := resolver.New()
	require.NoError(t, r.BuildGraph(nodes))
	plan, err := r.GetExecutionPlan()
	require.NoError(t, err)
	return plan
}

func TestSubmitPlanAllTasksSucceed(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, agentID string, task decomposer.Subtask) (any, error) {
		return "ok", nil
	})
	registerIdleAgent(t, h, "a1")

	subtasks := map[string]decomposer.Subtask{
		"a": {ID: "a"},
		"b": {ID: "b", Dependencies: []string{"a"}},
	}
	plan := linearPlan(t, subtasks)

	result, err := h.engine.SubmitPlan(context.Background(), "plan-1", plan, subtasks, DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Completed)
	assert.Equal(t, 0, result.Failed)
}

func TestSubmitPlanSkipsDescendantsOfFailedTask(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, agentID string, task decomposer.Subtask) (any, error) {
		if task.ID == "a" {
			return nil, errors.New("fatal failure")
		}
		return "ok", nil
	})
	registerIdleAgent(t, h, "a1")

	subtasks := map[string]decomposer.Subtask{
		"a": {ID: "a", Retry: decomposer.RetryPolicy{MaxAttempts: 1}},
		"b": {ID: "b", Dependencies: []string{"a"}},
	}
	plan := linearPlan(t, subtasks)

	policy := DefaultPolicy()
	policy.RetryAttempts = 0
	result, err := h.engine.SubmitPlan(context.Background(), "plan-2", plan, subtasks, policy)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, "a", result.FirstFailedTaskID)
}

func TestSubmitPlanNoEligibleAgentFailsTask(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, agentID string, task decomposer.Subtask) (any, error) {
		return "ok", nil
	})
	// no agents registered at all

	subtasks := map[string]decomposer.Subtask{"a": {ID: "a", Retry: decomposer.RetryPolicy{MaxAttempts: 1}}}
	plan := linearPlan(t, subtasks)

	policy := DefaultPolicy()
	policy.RetryAttempts = 0
	result, err := h.engine.SubmitPlan(context.Background(), "plan-3", plan, subtasks, policy)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.True(t, errors.Is(result.Results["a"].Err, errkind.ErrNoEligibleAgent))
}

func TestSubmitPlanRetriesTransientFailureThenSucceeds(t *testing.T) {
	attempts := 0
	h := newHarness(t, func(ctx context.Context, agentID string, task decomposer.Subtask) (any, error) {
		attempts++
		if attempts < 2 {
			return nil, errkind.Wrap(errkind.TransientNetwork, "test.timeout", errors.New("timeout talking to agent"))
		}
		return "ok", nil
	})
	registerIdleAgent(t, h, "a1")

	subtasks := map[string]decomposer.Subtask{"a": {ID: "a", Retry: decomposer.RetryPolicy{MaxAttempts: 3, InitialDelayMs: 1, BackoffMultiplier: 1}}}
	plan := linearPlan(t, subtasks)

	result, err := h.engine.SubmitPlan(context.Background(), "plan-4", plan, subtasks, DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 2, result.Results["a"].Attempts)
}

func TestSubmitPlanCancellationStopsRemainingLevels(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, agentID string, task decomposer.Subtask) (any, error) {
		return "ok", nil
	})
	registerIdleAgent(t, h, "a1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	subtasks := map[string]decomposer.Subtask{"a": {ID: "a"}}
	plan := linearPlan(t, subtasks)

	result, err := h.engine.SubmitPlan(ctx, "plan-5", plan, subtasks, DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, result.Results["a"].Status)
}

func TestSubmitPlanPerTaskTimeoutFailsStuckExecutor(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, agentID string, task decomposer.Subtask) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	registerIdleAgent(t, h, "a1")

	subtasks := map[string]decomposer.Subtask{
		"a": {ID: "a", TimeoutMs: 1, Retry: decomposer.RetryPolicy{MaxAttempts: 1}},
	}
	plan := linearPlan(t, subtasks)

	result, err := h.engine.SubmitPlan(context.Background(), "plan-timeout", plan, subtasks, DefaultPolicy())
	require.NoError(t, err)
	<-started
	assert.Equal(t, StatusFailed, result.Results["a"].Status)
}

func TestForcedUnregisterFailsInFlightTaskWithCapacityKind(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, agentID string, task decomposer.Subtask) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	})
	registerIdleAgent(t, h, "a1")

	subtasks := map[string]decomposer.Subtask{
		"a": {ID: "a", Retry: decomposer.RetryPolicy{MaxAttempts: 1}},
	}
	plan := linearPlan(t, subtasks)

	done := make(chan *ExecutionResult, 1)
	go func() {
		result, _ := h.engine.SubmitPlan(context.Background(), "plan-evict", plan, subtasks, DefaultPolicy())
		done <- result
	}()

	require.Eventually(t, func() bool { return h.engine.InFlightChecker()("a1") > 0 }, time.Second, time.Millisecond)

	err := h.reg.Unregister("a1", h.engine.InFlightChecker(), h.engine.FailInFlight, true)
	require.NoError(t, err)
	close(release)

	result := <-done
	assert.Equal(t, StatusFailed, result.Results["a"].Status)
	assert.True(t, errors.Is(result.Results["a"].Err, errkind.ErrAgentEvicted))
}

func TestCircuitOpensAfterRepeatedFailuresAndFailsAllCircuitsOpen(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, agentID string, task decomposer.Subtask) (any, error) {
		return nil, errors.New("boom")
	})
	registerIdleAgent(t, h, "a1")

	subtasks := map[string]decomposer.Subtask{"a": {ID: "a", Retry: decomposer.RetryPolicy{MaxAttempts: 1}}}
	plan := linearPlan(t, subtasks)
	policy := DefaultPolicy()
	policy.RetryAttempts = 0

	_, err := h.engine.SubmitPlan(context.Background(), "plan-6", plan, subtasks, policy)
	require.NoError(t, err)
	_, err = h.engine.SubmitPlan(context.Background(), "plan-7", plan, subtasks, policy)
	require.NoError(t, err)

	result, err := h.engine.SubmitPlan(context.Background(), "plan-8", plan, subtasks, policy)
	require.NoError(t, err)
	assert.True(t, errors.Is(result.Results["a"].Err, errkind.ErrAllCircuitsOpen))
}
