// Command swarmcore-demo wires one Runtime value end-to-end — Decomposer,
// Resolver, Registry, Strategy, Selector, CircuitBreaker Registry, Cost
// Tracker, Budget Enforcer, Engine, and the shutdown Coordinator — and
// submits a single diamond-shaped plan through it.
//
// This is not a server or CLI (both are explicit non-goals per spec §1);
// it exists purely to demonstrate submitPlan against a concrete Executor
// (cancel/getStatus are not called here), the way the teacher's main.go wires its services
// together before blocking on a signal channel, without any of the gRPC/
// HTTP/Temporal surface that main.go stands up (all non-goals here).
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/swarmforge/swarmcore/internal/agentmodel"
	"github.com/swarmforge/swarmcore/internal/budget"
	"github.com/swarmforge/swarmcore/internal/circuitbreaker"
	"github.com/swarmforge/swarmcore/internal/clock"
	"github.com/swarmforge/swarmcore/internal/decomposer"
	"github.com/swarmforge/swarmcore/internal/engine"
	"github.com/swarmforge/swarmcore/internal/eventbus"
	"github.com/swarmforge/swarmcore/internal/registry"
	"github.com/swarmforge/swarmcore/internal/resolver"
	"github.com/swarmforge/swarmcore/internal/shutdown"
	"github.com/swarmforge/swarmcore/internal/strategy"
	"github.com/swarmforge/swarmcore/internal/swarmconfig"
)

// Runtime is the single explicit shared-instance value named in spec §9
// ("an explicit Runtime value constructed at startup and passed down...
// no ambient globals") that owns every component from §2's dependency
// order.
type Runtime struct {
	Logger *zap.Logger
	Config swarmconfig.Config

	Bus        *eventbus.Bus
	Clock      clock.Clock
	Tracker    *budget.Tracker
	Enforcer   *budget.Enforcer
	Breakers   *circuitbreaker.Registry
	Registry   *registry.Registry
	Strategy   strategy.Strategy
	Selector   *registry.Selector
	Decomposer *decomposer.Decomposer
	Engine     *engine.Engine
	Shutdown   *shutdown.Coordinator

	stopLiveness func()
}

// runtimeStopper adapts the Registry and Tracker into budget.RuntimeStopper
// so the Enforcer can auto-stop a runaway agent on a budget "stop" verdict
// without either package importing the other (spec §4.7: "stopRuntime
// (agentId) updates agent status to stopped, closes the cost session,
// emits runtime.stopped").
type runtimeStopper struct {
	reg     *registry.Registry
	tracker *budget.Tracker
}

func (s runtimeStopper) StopRuntime(agentID string) error {
	if err := s.reg.UpdateStatus(agentID, agentmodel.StatusStopped); err != nil {
		return err
	}
	s.tracker.StopAllOpenSessions(agentID)
	return nil
}

// NewRuntime builds and wires the runtime components in this order:
// Event substrate -> Cost Tracker -> Registry -> Budget Enforcer ->
// Circuit Breaker -> Strategy -> Selector -> Decomposer -> Engine. The
// Registry comes before the Enforcer because the auto-stop adapter needs
// it. No Resolver is held by the Runtime; one is built per plan (see
// seedDiamondPlan).
func NewRuntime(cfg swarmconfig.Config, logger *zap.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clk := clock.New()
	bus := eventbus.New()

	rates := budget.NewRateTable(map[string]budget.Rate{
		string(budget.RuntimeNative): {PerHour: 5},
	})
	tracker := budget.NewTracker(rates, clk)

	reg := registry.New(logger, bus, registry.WithLivenessTimeout(
		time.Duration(cfg.Registry.LivenessTimeoutMs)*time.Millisecond))

	stopper := runtimeStopper{reg: reg, tracker: tracker}
	var enforcer *budget.Enforcer
	if cfg.Budget.AutoStop {
		enforcer = budget.NewEnforcer(tracker, bus, clk, budget.WithAutoStop(stopper))
	} else {
		enforcer = budget.NewEnforcer(tracker, bus, clk)
	}

	breakerCfg := circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		ResetTimeout:     time.Duration(cfg.Breaker.ResetTimeoutMs) * time.Millisecond,
		HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
	}
	breakers := circuitbreaker.NewRegistry(breakerCfg, logger, bus, clk)

	strat := strategy.NewWeighted(strategy.Weights{
		Cost:        cfg.Strategy.Weights.Cost,
		Speed:       cfg.Strategy.Weights.Speed,
		Reliability: cfg.Strategy.Weights.Reliability,
	})

	sel := registry.NewSelector(reg, strat)
	decomp := decomposer.New()

	eng := engine.New(sel, strat, breakers, enforcer, tracker, bus, clk, nativeExecutor)

	coord := shutdown.New(logger, bus, clk)

	rt := &Runtime{
		Logger:     logger,
		Config:     cfg,
		Bus:        bus,
		Clock:      clk,
		Tracker:    tracker,
		Enforcer:   enforcer,
		Breakers:   breakers,
		Registry:   reg,
		Strategy:   strat,
		Selector:   sel,
		Decomposer: decomp,
		Engine:     eng,
		Shutdown:   coord,
	}

	sweepInterval := time.Duration(cfg.Registry.LivenessTimeoutMs) * time.Millisecond / 3
	if sweepInterval <= 0 {
		sweepInterval = time.Second
	}
	rt.stopLiveness = reg.StartLivenessSweep(context.Background(), sweepInterval)

	coord.Register(shutdown.Hook{
		Name:     "registry-liveness-sweep",
		Priority: 10,
		Timeout:  5 * time.Second,
		Run: func(ctx context.Context) error {
			if rt.stopLiveness != nil {
				rt.stopLiveness()
			}
			return nil
		},
	})

	return rt, nil
}

// nativeExecutor is a minimal in-process Executor standing in for the
// opaque agent computation spec §1 excludes from this module's scope: it
// simulates work with a short sleep and always succeeds, honoring ctx
// cancellation cooperatively per spec §4.5.
func nativeExecutor(ctx context.Context, agentID string, task decomposer.Subtask) (any, error) {
	select {
	case <-time.After(20 * time.Millisecond):
		return fmt.Sprintf("agent %s completed %s", agentID, task.ID), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// seedDiamondPlan builds the diamond DAG from spec §8's scenario S1:
// A -> B, A -> C, {B,C} -> D.
func seedDiamondPlan() (*resolver.ExecutionPlan, map[string]decomposer.Subtask) {
	skills := map[string]bool{"general": true}
	subtasks := []decomposer.Subtask{
		{ID: "A", Name: "root", RequiredSkills: skills, Priority: decomposer.PriorityHigh},
		{ID: "B", Name: "left", RequiredSkills: skills, Priority: decomposer.PriorityMedium, Dependencies: []string{"A"}},
		{ID: "C", Name: "right", RequiredSkills: skills, Priority: decomposer.PriorityMedium, Dependencies: []string{"A"}},
		{ID: "D", Name: "join", RequiredSkills: skills, Priority: decomposer.PriorityLow, Dependencies: []string{"B", "C"}},
	}

	nodes := make([]resolver.Node, len(subtasks))
	byID := make(map[string]decomposer.Subtask, len(subtasks))
	for i, st := range subtasks {
		nodes[i] = resolver.Node{ID: st.ID, Dependencies: st.Dependencies}
		byID[st.ID] = st
	}

	r := resolver.New()
	if err := r.BuildGraph(nodes); err != nil {
		panic(err) // the literal scenario above is acyclic by construction
	}
	plan, err := r.GetExecutionPlan()
	if err != nil {
		panic(err)
	}
	return plan, byID
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	rt, err := NewRuntime(swarmconfig.DefaultConfig(), logger)
	if err != nil {
		logger.Fatal("failed to build runtime", zap.Error(err))
	}

	a1 := agentmodel.New("agent-1", agentmodel.Capabilities{
		Skills: map[string]bool{"general": true}, CostPerHour: 4, AvgSpeed: 0.8, Reliability: 0.95,
	})
	if err := rt.Registry.Register(a1); err != nil {
		logger.Fatal("failed to register agent", zap.Error(err))
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	plan, subtasks := seedDiamondPlan()
	result, err := rt.Engine.SubmitPlan(ctx, "demo-plan", plan, subtasks, engine.DefaultPolicy())
	if err != nil {
		logger.Error("plan submission failed", zap.Error(err))
	} else {
		logger.Info("plan completed",
			zap.Int("completed", result.Completed),
			zap.Int("failed", result.Failed),
			zap.Int("skipped", result.Skipped),
			zap.Int("cancelled", result.Cancelled),
			zap.Int64("duration_ms", result.DurationMs),
		)
	}

	rt.Shutdown.Shutdown(context.Background())
}
