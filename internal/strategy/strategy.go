// Package strategy implements the pluggable load-balancing strategies
// from spec §4.4: round-robin, least-connections, least-loaded, weighted,
// and consistent-hash. Each is a deterministic function of its candidate
// list and tracked stats — "given identical inputs and state, every
// strategy MUST return the same agent."
//
// Grounded on the teacher's circuit breaker Counts/generation reset
// pattern (internal/circuitbreaker/circuit_breaker.go) for the rolling
// sample window used by the weighted strategy, since the teacher has no
// load-balancer package of its own to ground on directly.
package strategy

import (
	"sync"

	"github.com/swarmforge/swarmcore/internal/agentmodel"
	"github.com/swarmforge/swarmcore/internal/registry"
)

// Sample is one observed dispatch outcome fed back via UpdateStats.
type Sample struct {
	DurationMs float64
	Success    bool
	Cost       float64
}

// AgentStats is the rolling-window view exposed by GetStats.
type AgentStats struct {
	Samples       int
	FailureRate   float64
	MeanDuration  float64
	ActiveConns   int
	TotalConns    int
}

// Strategy is the pluggable selection algorithm (spec §4.4).
type Strategy interface {
	Name() string
	// Order ranks candidates best-first for req. The Selector (and the
	// engine, when falling back past an open circuit) use the ordering;
	// SelectAgent is Order(candidates, req)[0].
	Order(candidates []*agentmodel.Agent, req registry.Requirements) []*agentmodel.Agent
	UpdateStats(agentID string, sample Sample)
	GetStats() map[string]AgentStats
}

// SelectAgent picks the single best candidate, or (nil, false) if none
// match.
func SelectAgent(s Strategy, candidates []*agentmodel.Agent, req registry.Requirements) (*agentmodel.Agent, bool) {
	ordered := s.Order(candidates, req)
	if len(ordered) == 0 {
		return nil, false
	}
	return ordered[0], true
}

// rollingWindow is a fixed-capacity ring buffer of Samples, shared by the
// strategies that need more than an instantaneous gauge (weighted,
// least-loaded).
type rollingWindow struct {
	mu      sync.Mutex
	samples []Sample
	cap     int
	next    int
	full    bool
}

func newRollingWindow(capacity int) *rollingWindow {
	return &rollingWindow{samples: make([]Sample, capacity), cap: capacity}
}

func (w *rollingWindow) add(s Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = s
	w.next = (w.next + 1) % w.cap
	if w.next == 0 {
		w.full = true
	}
}

func (w *rollingWindow) snapshot() AgentStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.next
	if w.full {
		n = w.cap
	}
	if n == 0 {
		return AgentStats{}
	}
	var failures int
	var totalDur float64
	for i := 0; i < n; i++ {
		s := w.samples[i]
		if !s.Success {
			failures++
		}
		totalDur += s.DurationMs
	}
	return AgentStats{
		Samples:      n,
		FailureRate:  float64(failures) / float64(n),
		MeanDuration: totalDur / float64(n),
	}
}

// DefaultWindowSize is the rolling-window capacity used when a strategy
// doesn't override it (spec §4.4: "rolling window (default last 100
// samples)").
const DefaultWindowSize = 100
