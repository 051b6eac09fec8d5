package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/swarmforge/swarmcore/internal/agentmodel"
	"github.com/swarmforge/swarmcore/internal/registry"
)

// Weights configures the weighted strategy's scoring function (spec
// §4.4). They must sum to 1; Validate enforces this at config time
// rather than silently renormalizing.
type Weights struct {
	Cost        float64
	Speed       float64
	Reliability float64
}

// DefaultWeights gives cost, speed and reliability equal say.
func DefaultWeights() Weights {
	return Weights{Cost: 1.0 / 3, Speed: 1.0 / 3, Reliability: 1.0 / 3}
}

const weightSumTolerance = 1e-9

func (w Weights) Validate() error {
	sum := w.Cost + w.Speed + w.Reliability
	if sum < 1-weightSumTolerance || sum > 1+weightSumTolerance {
		return fmt.Errorf("strategy: weights must sum to 1, got %f", sum)
	}
	return nil
}

// Weighted scores candidates as
//
//	w_cost·(1/costPerHour) + w_speed·avgSpeed + w_reliability·reliability
//
// and picks the max, per spec §4.4.
type Weighted struct {
	weights Weights

	mu    sync.Mutex
	stats map[string]*rollingWindow
}

// NewWeighted panics if weights don't sum to 1 — config validation
// happens once, at construction, not per-selection.
func NewWeighted(weights Weights) *Weighted {
	if err := weights.Validate(); err != nil {
		panic(err)
	}
	return &Weighted{weights: weights, stats: make(map[string]*rollingWindow)}
}

func (w *Weighted) Name() string { return "weighted" }

func (w *Weighted) score(a *agentmodel.Agent) float64 {
	costScore := 0.0
	if a.Capabilities.CostPerHour > 0 {
		costScore = 1 / a.Capabilities.CostPerHour
	}
	return w.weights.Cost*costScore +
		w.weights.Speed*a.Capabilities.AvgSpeed +
		w.weights.Reliability*a.Capabilities.Reliability
}

func (w *Weighted) Order(candidates []*agentmodel.Agent, _ registry.Requirements) []*agentmodel.Agent {
	ordered := make([]*agentmodel.Agent, len(candidates))
	copy(ordered, candidates)
	scores := make(map[string]float64, len(ordered))
	for _, a := range ordered {
		scores[a.ID] = w.score(a)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if scores[a.ID] != scores[b.ID] {
			return scores[a.ID] > scores[b.ID] // higher score first
		}
		return a.ID < b.ID
	})
	return ordered
}

func (w *Weighted) UpdateStats(agentID string, sample Sample) {
	w.mu.Lock()
	rw, ok := w.stats[agentID]
	if !ok {
		rw = newRollingWindow(DefaultWindowSize)
		w.stats[agentID] = rw
	}
	w.mu.Unlock()
	rw.add(sample)
}

func (w *Weighted) GetStats() map[string]AgentStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]AgentStats, len(w.stats))
	for id, rw := range w.stats {
		out[id] = rw.snapshot()
	}
	return out
}
