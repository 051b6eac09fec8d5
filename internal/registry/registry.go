// Package registry implements the Agent Registry from spec §4.3: a live
// pool of agents with serialized writes and consistent-snapshot reads, a
// background liveness sweep, and the registered/unregistered/state_changed
// events it must publish.
//
// Grounded on the teacher's internal/health/manager.go for the
// periodic-sweep-over-a-map shape (checker interval/timeout generalized
// here to a single liveness timeout over agent LastSeen), and on
// spec §5's "serialized writes; snapshot reads" contract for the Registry
// specifically.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swarmforge/swarmcore/internal/agentmodel"
	"github.com/swarmforge/swarmcore/internal/clock"
	"github.com/swarmforge/swarmcore/internal/correlation"
	"github.com/swarmforge/swarmcore/internal/errkind"
	"github.com/swarmforge/swarmcore/internal/eventbus"
)

// Registry tracks the live pool of agents.
type Registry struct {
	logger *zap.Logger
	clock  clock.Clock
	bus    *eventbus.Bus

	livenessTimeout time.Duration

	mu     sync.RWMutex
	agents map[string]*agentmodel.Agent

	stopSweep chan struct{}
	swept     chan struct{}
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithLivenessTimeout overrides the default 30s liveness timeout.
func WithLivenessTimeout(d time.Duration) Option {
	return func(r *Registry) { r.livenessTimeout = d }
}

// WithClock injects a Clock, primarily for tests.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// New creates an empty Registry.
func New(logger *zap.Logger, bus *eventbus.Bus, opts ...Option) *Registry {
	r := &Registry{
		logger:          logger,
		clock:           clock.New(),
		bus:             bus,
		livenessTimeout: 30 * time.Second,
		agents:          make(map[string]*agentmodel.Agent),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) publish(topic string, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.New(r.clock.Now(), topic, "registry", payload, correlation.New()))
}

// Register adds an agent to the pool, starting in StatusIdle (spec §4.3
// orders created -> idle; the registry performs that first transition so
// callers always observe a ready agent).
func (r *Registry) Register(a *agentmodel.Agent) error {
	if err := a.Transition(agentmodel.StatusIdle); err != nil {
		return err
	}
	a.Heartbeat(r.clock.Now())

	r.mu.Lock()
	r.agents[a.ID] = a
	r.mu.Unlock()

	r.publish(eventbus.TopicAgentRegistered, a.Snapshot())
	return nil
}

// AgentInFlightChecker reports how many in-flight assignments an agent
// currently has; the Engine implements this (Engine.InFlightChecker) so
// Unregister can enforce "only when zero in-flight assignments" (spec
// §3).
type AgentInFlightChecker func(agentID string) int

// AgentEvictionHandler is invoked after a forced Unregister transitions
// an agent to StatusStopped, so the caller can make that eviction actually
// fail the agent's in-flight work. The Engine implements this
// (Engine.FailInFlight) by cancelling every in-flight dispatch for the
// agent and reporting errkind.Capacity back to the caller (spec §3:
// "forced eviction causes all its in-flight tasks to fail with a specific
// error kind").
type AgentEvictionHandler func(agentID string)

// Unregister removes an agent, refusing if it has in-flight assignments
// unless force is true. A forced eviction transitions the agent to
// StatusStopped and, if onForceEvict is non-nil, invokes it so the
// agent's in-flight tasks actually fail (spec §3).
func (r *Registry) Unregister(agentID string, inFlight AgentInFlightChecker, onForceEvict AgentEvictionHandler, force bool) error {
	r.mu.Lock()
	a, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return errkind.New(errkind.FatalInput, "registry.unknown_agent", "agent not registered", nil)
	}
	if !force && inFlight != nil && inFlight(agentID) > 0 {
		r.mu.Unlock()
		return errkind.New(errkind.Capacity, "registry.agent_busy", "agent has in-flight assignments", nil)
	}
	delete(r.agents, agentID)
	r.mu.Unlock()

	if force {
		_ = a.Transition(agentmodel.StatusStopped)
		if onForceEvict != nil {
			onForceEvict(agentID)
		}
	}
	r.publish(eventbus.TopicAgentUnregistered, agentID)
	return nil
}

// Clear removes every registered agent. A clear-then-register sequence
// is guaranteed to yield a pool containing exactly the newly registered
// agents (spec §8).
func (r *Registry) Clear() {
	r.mu.Lock()
	r.agents = make(map[string]*agentmodel.Agent)
	r.mu.Unlock()
}

// UpdateStatus transitions an agent's status, publishing
// agent.state_changed on success.
func (r *Registry) UpdateStatus(agentID string, to agentmodel.Status) error {
	a, ok := r.GetByID(agentID)
	if !ok {
		return errkind.New(errkind.FatalInput, "registry.unknown_agent", "agent not registered", nil)
	}
	from := a.Status()
	if err := a.Transition(to); err != nil {
		return err
	}
	r.publish(eventbus.TopicAgentStateChanged, map[string]any{
		"agent_id": agentID, "from": from, "to": to,
	})
	return nil
}

// Heartbeat records liveness for an agent and, if it had been marked
// unhealthy, restores it to idle.
func (r *Registry) Heartbeat(agentID string) error {
	a, ok := r.GetByID(agentID)
	if !ok {
		return errkind.New(errkind.FatalInput, "registry.unknown_agent", "agent not registered", nil)
	}
	a.Heartbeat(r.clock.Now())
	if a.Status() == agentmodel.StatusUnhealthy {
		return r.UpdateStatus(agentID, agentmodel.StatusIdle)
	}
	return nil
}

// GetByID returns the live Agent handle (not a snapshot) so callers that
// need to mutate load/connections (strategies) can do so; use Snapshot
// for read-only views.
func (r *Registry) GetByID(agentID string) (*agentmodel.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	return a, ok
}

// GetAll returns a consistent snapshot of every registered agent.
func (r *Registry) GetAll() []agentmodel.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]agentmodel.Snapshot, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Snapshot())
	}
	return out
}

// GetByState returns a consistent snapshot of every agent in the given
// status.
func (r *Registry) GetByState(status agentmodel.Status) []agentmodel.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]agentmodel.Snapshot, 0)
	for _, a := range r.agents {
		if a.Status() == status {
			out = append(out, a.Snapshot())
		}
	}
	return out
}

// handles returns the live Agent pointers backing a status, for internal
// callers (the Selector) that need mutable handles rather than
// snapshots.
func (r *Registry) handles(status agentmodel.Status) []*agentmodel.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*agentmodel.Agent, 0)
	for _, a := range r.agents {
		if a.Status() == status {
			out = append(out, a)
		}
	}
	return out
}

// StartLivenessSweep launches the background liveness checker described
// in spec §4.3 ("a background task marks idle|busy agents unhealthy if
// now - lastSeen > livenessTimeout"). Call the returned stop function (or
// cancel ctx) to stop it; it is safe to call Stop multiple times.
func (r *Registry) StartLivenessSweep(ctx context.Context, interval time.Duration) (stop func()) {
	r.stopSweep = make(chan struct{})
	r.swept = make(chan struct{})
	stopCh := r.stopSweep
	doneCh := r.swept

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				r.sweepOnce()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stopCh) })
		<-doneCh
	}
}

func (r *Registry) sweepOnce() {
	now := r.clock.Now()
	for _, status := range []agentmodel.Status{agentmodel.StatusIdle, agentmodel.StatusBusy} {
		for _, a := range r.handles(status) {
			if now.Sub(a.LastSeen()) > r.livenessTimeout {
				from := a.Status()
				if err := a.Transition(agentmodel.StatusUnhealthy); err == nil {
					r.logger.Warn("agent marked unhealthy", zap.String("agent_id", a.ID), zap.Duration("since_last_seen", now.Sub(a.LastSeen())))
					r.publish(eventbus.TopicAgentStateChanged, map[string]any{
						"agent_id": a.ID, "from": from, "to": agentmodel.StatusUnhealthy,
					})
				}
			}
		}
	}
}
