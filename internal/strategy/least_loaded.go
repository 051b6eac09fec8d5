package strategy

import (
	"sort"
	"sync"

	"github.com/swarmforge/swarmcore/internal/agentmodel"
	"github.com/swarmforge/swarmcore/internal/registry"
)

// LeastLoaded picks the agent with the lowest current-load gauge, where
// the gauge is overridden by the tracked rolling mean duration once
// enough samples exist (spec §4.4: "capability load overridden by
// tracked rolling load derived from sample durations").
type LeastLoaded struct {
	mu    sync.Mutex
	stats map[string]*rollingWindow
}

func NewLeastLoaded() *LeastLoaded {
	return &LeastLoaded{stats: make(map[string]*rollingWindow)}
}

func (l *LeastLoaded) Name() string { return "least-loaded" }

// effectiveLoad replaces the agent's declared load gauge with its observed
// rolling mean duration once there is at least one sample, normalizing
// duration into [0,1] by a fixed reference ceiling (capped at 1) so it can
// be compared against the gauges of agents without samples.
const durationNormalizationMs = 10000.0

func (l *LeastLoaded) effectiveLoad(a *agentmodel.Agent) float64 {
	l.mu.Lock()
	w, ok := l.stats[a.ID]
	l.mu.Unlock()
	if !ok {
		return a.Load()
	}
	stats := w.snapshot()
	if stats.Samples == 0 {
		return a.Load()
	}
	observed := stats.MeanDuration / durationNormalizationMs
	if observed > 1 {
		observed = 1
	}
	return observed
}

func (l *LeastLoaded) Order(candidates []*agentmodel.Agent, _ registry.Requirements) []*agentmodel.Agent {
	ordered := make([]*agentmodel.Agent, len(candidates))
	copy(ordered, candidates)
	loads := make(map[string]float64, len(ordered))
	for _, a := range ordered {
		loads[a.ID] = l.effectiveLoad(a)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if loads[a.ID] != loads[b.ID] {
			return loads[a.ID] < loads[b.ID]
		}
		return a.ID < b.ID
	})
	return ordered
}

func (l *LeastLoaded) UpdateStats(agentID string, sample Sample) {
	l.mu.Lock()
	w, ok := l.stats[agentID]
	if !ok {
		w = newRollingWindow(DefaultWindowSize)
		l.stats[agentID] = w
	}
	l.mu.Unlock()
	w.add(sample)
}

func (l *LeastLoaded) GetStats() map[string]AgentStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]AgentStats, len(l.stats))
	for id, w := range l.stats {
		out[id] = w.snapshot()
	}
	return out
}
