// Package decomposer implements the Task Decomposer from spec §4.1: it
// turns a free-form Intent into a vector of Subtasks using one of four
// pluggable strategies, then validates that ids are unique, that every
// dependency names a subtask of the same decomposition, and that there
// is no cycle.
//
// Grounded on the teacher's internal/validation/cycle_detection.go for
// the acyclicity check (reused directly as internal/resolver's Kahn
// sort, invoked here purely for validation) and on the general
// "strategy function registered by name" shape the teacher uses for its
// workflow strategies (internal/workflows/strategies package) — here
// narrowed to four pure `Intent -> []Subtask` functions instead of
// Temporal workflow entry points, since the decomposer itself holds no
// execution state.
package decomposer

import (
	"fmt"

	"github.com/swarmforge/swarmcore/internal/errkind"
	"github.com/swarmforge/swarmcore/internal/resolver"
)

// Priority mirrors spec §3's subtask priority levels.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// RetryPolicy is a subtask's retry budget (spec §3: "a retry budget
// (count + backoff parameters)").
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelayMs    int
	BackoffMultiplier float64
}

// Subtask is one node of the decomposition (spec §3).
type Subtask struct {
	ID             string
	Name           string
	RequiredSkills map[string]bool
	Priority       Priority
	Dependencies   []string
	TimeoutMs      int
	Retry          RetryPolicy
	Payload        any
}

// Intent is the free-form input to decomposition.
type Intent struct {
	Goal  string
	Hints map[string]any
}

// Strategy is a pure function `intent -> subtasks` (spec §4.1).
type Strategy func(Intent) ([]Subtask, error)

// Name identifies one of the four required strategies.
type Name string

const (
	ComponentBased Name = "component-based"
	DomainBased    Name = "domain-based"
	FileBased      Name = "file-based"
	Pipeline       Name = "pipeline"
)

// Decomposer dispatches to a named Strategy and validates its output.
type Decomposer struct {
	strategies map[Name]Strategy
}

// New builds a Decomposer with the four built-in strategies registered.
func New() *Decomposer {
	return &Decomposer{
		strategies: map[Name]Strategy{
			ComponentBased: componentBasedStrategy,
			DomainBased:    domainBasedStrategy,
			FileBased:      fileBasedStrategy,
			Pipeline:       pipelineStrategy,
		},
	}
}

// Register overrides or adds a named strategy, for callers that want a
// custom decomposition policy without forking the package.
func (d *Decomposer) Register(name Name, s Strategy) {
	d.strategies[name] = s
}

// Decompose runs the named strategy and validates its output per spec
// §4.1: non-empty, unique ids, every dependency known, and acyclic.
func (d *Decomposer) Decompose(name Name, intent Intent) ([]Subtask, error) {
	strat, ok := d.strategies[name]
	if !ok {
		return nil, errkind.Wrap(errkind.FatalInput, "decomposer.unknown_strategy", fmt.Errorf("%w: %s", errkind.ErrUnknownStrategy, name))
	}

	subtasks, err := strat(intent)
	if err != nil {
		return nil, err
	}
	if len(subtasks) == 0 {
		return nil, errkind.Wrap(errkind.FatalInput, "decomposer.empty", errkind.ErrDecompositionEmpty)
	}

	if err := validate(subtasks); err != nil {
		return nil, err
	}
	return subtasks, nil
}

// validate enforces unique ids and that every dependency refers to a
// subtask actually emitted by this decomposition (spec §4.1: "dependency
// lists reference only previously emitted ids OR ids emitted within the
// same decomposition"). Cycle detection itself is delegated to the
// resolver's Kahn sort via DetectCycle, kept here as a thin adapter so
// the decomposer fails fast before ever handing a plan to the resolver.
func validate(subtasks []Subtask) error {
	seen := make(map[string]bool, len(subtasks))
	for _, st := range subtasks {
		if st.ID == "" {
			return errkind.Wrap(errkind.FatalInput, "decomposer.empty_id", fmt.Errorf("subtask %q has empty id", st.Name))
		}
		if seen[st.ID] {
			return errkind.Wrap(errkind.FatalInput, "decomposer.duplicate_id", fmt.Errorf("duplicate subtask id %q", st.ID))
		}
		seen[st.ID] = true
	}
	for _, st := range subtasks {
		for _, dep := range st.Dependencies {
			if !seen[dep] {
				return errkind.Wrap(errkind.FatalInput, "decomposer.unknown_dependency", fmt.Errorf("subtask %q depends on unknown id %q", st.ID, dep))
			}
		}
	}
	if err := detectCycle(subtasks); err != nil {
		return errkind.Wrap(errkind.FatalInput, "decomposer.cycle", err)
	}
	return nil
}

// detectCycle adapts Subtasks into resolver.Nodes and delegates to the
// resolver's Kahn-sort-based acyclicity check, so the decomposer and the
// resolver share one cycle-detection implementation.
func detectCycle(subtasks []Subtask) error {
	nodes := make([]resolver.Node, len(subtasks))
	for i, st := range subtasks {
		nodes[i] = resolver.Node{
			ID:           st.ID,
			Priority:     priorityRank(st.Priority),
			Dependencies: st.Dependencies,
		}
	}
	return resolver.DetectCycle(nodes)
}

func priorityRank(p Priority) resolver.Priority {
	switch p {
	case PriorityCritical:
		return resolver.PriorityCritical
	case PriorityHigh:
		return resolver.PriorityHigh
	case PriorityMedium:
		return resolver.PriorityMedium
	default:
		return resolver.PriorityLow
	}
}
