package strategy

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/swarmforge/swarmcore/internal/agentmodel"
	"github.com/swarmforge/swarmcore/internal/registry"
)

// RoundRobin cycles candidates in a stable order with O(1) selection
// per call (spec §4.4).
type RoundRobin struct {
	cursor uint64

	mu    sync.Mutex
	stats map[string]*rollingWindow
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{stats: make(map[string]*rollingWindow)}
}

func (r *RoundRobin) Name() string { return "round-robin" }

func (r *RoundRobin) Order(candidates []*agentmodel.Agent, _ registry.Requirements) []*agentmodel.Agent {
	if len(candidates) == 0 {
		return nil
	}
	ordered := make([]*agentmodel.Agent, len(candidates))
	copy(ordered, candidates)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	n := uint64(len(ordered))
	start := atomic.AddUint64(&r.cursor, 1) - 1
	rotated := make([]*agentmodel.Agent, n)
	for i := range ordered {
		rotated[i] = ordered[(start+uint64(i))%n]
	}
	return rotated
}

func (r *RoundRobin) UpdateStats(agentID string, sample Sample) {
	r.mu.Lock()
	w, ok := r.stats[agentID]
	if !ok {
		w = newRollingWindow(DefaultWindowSize)
		r.stats[agentID] = w
	}
	r.mu.Unlock()
	w.add(sample)
}

func (r *RoundRobin) GetStats() map[string]AgentStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]AgentStats, len(r.stats))
	for id, w := range r.stats {
		out[id] = w.snapshot()
	}
	return out
}
