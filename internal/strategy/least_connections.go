package strategy

import (
	"sort"
	"sync"

	"github.com/swarmforge/swarmcore/internal/agentmodel"
	"github.com/swarmforge/swarmcore/internal/registry"
)

// LeastConnections picks the agent with the fewest active connections,
// breaking ties by lowest total-connections-ever-seen, then
// alphabetically by id (spec §4.4 and the Open Question in §9 that
// resolves the final tie).
type LeastConnections struct {
	mu    sync.Mutex
	stats map[string]*rollingWindow
}

func NewLeastConnections() *LeastConnections {
	return &LeastConnections{stats: make(map[string]*rollingWindow)}
}

func (l *LeastConnections) Name() string { return "least-connections" }

func (l *LeastConnections) Order(candidates []*agentmodel.Agent, _ registry.Requirements) []*agentmodel.Agent {
	ordered := make([]*agentmodel.Agent, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.ActiveConnections() != b.ActiveConnections() {
			return a.ActiveConnections() < b.ActiveConnections()
		}
		if a.TotalConnectionsEver() != b.TotalConnectionsEver() {
			return a.TotalConnectionsEver() < b.TotalConnectionsEver()
		}
		return a.ID < b.ID
	})
	return ordered
}

func (l *LeastConnections) UpdateStats(agentID string, sample Sample) {
	l.mu.Lock()
	w, ok := l.stats[agentID]
	if !ok {
		w = newRollingWindow(DefaultWindowSize)
		l.stats[agentID] = w
	}
	l.mu.Unlock()
	w.add(sample)
}

func (l *LeastConnections) GetStats() map[string]AgentStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]AgentStats, len(l.stats))
	for id, w := range l.stats {
		out[id] = w.snapshot()
	}
	return out
}
