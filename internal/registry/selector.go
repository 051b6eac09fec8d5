package registry

import (
	"github.com/swarmforge/swarmcore/internal/agentmodel"
)

// Priority mirrors the subtask priority levels referenced by selection
// requirements (spec §3/§4.3).
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Requirements describes what a candidate agent must satisfy (spec
// §4.3: "requirements contain a required skill set, optional language
// filters, a priority, and an optional affinity key for sticky
// selection").
type Requirements struct {
	Skills    map[string]bool
	Languages map[string]bool
	Priority  Priority
	Affinity  string
}

// Candidate wraps a live agent handle, so strategies can read mutable
// fields (load, connection counts) without a second registry lookup.
type Candidate struct {
	Agent *agentmodel.Agent
}

// Selector wraps a Registry and produces ordered candidate lists for a
// task's requirements. Ordering among matching candidates is delegated
// to the active Strategy (spec §4.4); Selector itself only applies the
// eligibility filter from spec §4.3: "an agent satisfies a requirement
// iff its skills ⊇ requiredSkills AND its status ∈ {idle, busy-with-slack}".
type Selector struct {
	registry *Registry
	order    CandidateOrderer
}

// CandidateOrderer is implemented by strategy.Strategy; kept as a small
// local interface here to avoid an import cycle between registry and
// strategy (strategy depends on registry, not the other way round).
type CandidateOrderer interface {
	Order(candidates []*agentmodel.Agent, req Requirements) []*agentmodel.Agent
}

// NewSelector builds a Selector over registry using orderer for
// candidate ordering.
func NewSelector(registry *Registry, orderer CandidateOrderer) *Selector {
	return &Selector{registry: registry, order: orderer}
}

// hasSlack reports whether a busy agent still has room for another
// assignment, per its declared MaxConnections (0 means unbounded).
func hasSlack(a *agentmodel.Agent) bool {
	max := a.Capabilities.MaxConnections
	if max <= 0 {
		return true
	}
	return a.ActiveConnections() < max
}

// SelectCandidates returns the ordered list of eligible agents for req.
func (s *Selector) SelectCandidates(req Requirements) []*agentmodel.Agent {
	eligible := make([]*agentmodel.Agent, 0)
	for _, a := range s.registry.handles(agentmodel.StatusIdle) {
		if matches(a, req) {
			eligible = append(eligible, a)
		}
	}
	for _, a := range s.registry.handles(agentmodel.StatusBusy) {
		if matches(a, req) && hasSlack(a) {
			eligible = append(eligible, a)
		}
	}
	if s.order == nil {
		return eligible
	}
	return s.order.Order(eligible, req)
}

func matches(a *agentmodel.Agent, req Requirements) bool {
	if !a.Capabilities.HasSkills(req.Skills) {
		return false
	}
	for lang := range req.Languages {
		if !a.Capabilities.Languages[lang] {
			return false
		}
	}
	return true
}
