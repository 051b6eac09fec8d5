// Package resolver implements the Dependency Resolver from spec §4.2: it
// builds an adjacency list from {id, dependencies[]} tuples, verifies
// acyclicity, and computes an ExecutionPlan of deterministic topological
// levels via Kahn's algorithm.
//
// Grounded directly on the teacher's internal/validation/cycle_detection.go
// (Kahn's algorithm over an in-degree map, with a DFS-based cycle-witness
// finder), generalized from a single acyclicity check into the full
// level-by-level ExecutionPlan the engine consumes, and extended with the
// spec's (priority desc, id asc) level tie-break for determinism.
package resolver

import (
	"fmt"
	"sort"

	"github.com/swarmforge/swarmcore/internal/errkind"
)

// Priority mirrors spec §3's subtask priority levels, ordered so higher
// values sort first within a level.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// Node is the minimal shape the resolver needs from a task (spec §4.2:
// "accept {id, task, dependencies[]} tuples").
type Node struct {
	ID           string
	Priority     Priority
	Dependencies []string
}

// Level is a maximal set of node ids with every dependency satisfied by
// earlier levels, ordered deterministically (priority desc, id asc).
type Level struct {
	TaskIDs []string
}

// ExecutionPlan is the resolver's immutable output (spec §3).
type ExecutionPlan struct {
	Levels      []Level
	TotalTasks  int
	LongestPath int // critical path length in levels
}

// Resolver builds one ExecutionPlan from a set of Nodes.
type Resolver struct {
	nodes   map[string]Node
	order   []string // insertion order, for stable iteration
	levelOf map[string]int
	plan    *ExecutionPlan
}

// New creates an empty Resolver.
func New() *Resolver {
	return &Resolver{
		nodes:   make(map[string]Node),
		levelOf: make(map[string]int),
	}
}

// CycleError identifies a cycle witness (spec §4.2: "on cycle fails with
// ErrCycle identifying a cycle witness").
type CycleError struct {
	Witness []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %v", errkind.ErrCycle, e.Witness)
}

func (e *CycleError) Unwrap() error { return errkind.ErrCycle }

// BuildGraph validates acyclicity over tasks and, on success, computes
// and caches the ExecutionPlan. It is not idempotent across different
// inputs — call New() for a fresh graph per plan.
func (r *Resolver) BuildGraph(tasks []Node) error {
	r.nodes = make(map[string]Node, len(tasks))
	r.order = make([]string, 0, len(tasks))
	r.levelOf = make(map[string]int)
	r.plan = nil

	for _, t := range tasks {
		if _, dup := r.nodes[t.ID]; dup {
			return errkind.Wrap(errkind.FatalInput, "resolver.duplicate_id", fmt.Errorf("duplicate task id %q", t.ID))
		}
		r.nodes[t.ID] = t
		r.order = append(r.order, t.ID)
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := r.nodes[dep]; !ok {
				return errkind.Wrap(errkind.FatalInput, "resolver.unknown_dependency", fmt.Errorf("task %q depends on unknown id %q", t.ID, dep))
			}
		}
	}

	if witness := findCycle(tasks); witness != nil {
		return &CycleError{Witness: witness}
	}

	r.plan = r.computePlan()
	return nil
}

// GetExecutionPlan returns the immutable plan computed by BuildGraph; it
// is idempotent (spec §4.2) — repeated calls return the same value
// without recomputing.
func (r *Resolver) GetExecutionPlan() (*ExecutionPlan, error) {
	if r.plan == nil {
		return nil, errkind.New(errkind.InternalInvariant, "resolver.no_plan", "BuildGraph must succeed before GetExecutionPlan", nil)
	}
	return r.plan, nil
}

// AreDependenciesMet is a pure query: does completed contain every
// dependency of id? (spec §4.2).
func (r *Resolver) AreDependenciesMet(id string, completed map[string]bool) bool {
	node, ok := r.nodes[id]
	if !ok {
		return false
	}
	for _, dep := range node.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// LevelOf returns the level index a task id was assigned to computePlan.
func (r *Resolver) LevelOf(id string) (int, bool) {
	lv, ok := r.levelOf[id]
	return lv, ok
}

func (r *Resolver) computePlan() *ExecutionPlan {
	inDegree := make(map[string]int, len(r.nodes))
	dependents := make(map[string][]string, len(r.nodes))
	for id, n := range r.nodes {
		if _, ok := inDegree[id]; !ok {
			inDegree[id] = 0
		}
		for _, dep := range n.Dependencies {
			inDegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	remaining := make(map[string]int, len(inDegree))
	for id, d := range inDegree {
		remaining[id] = d
	}

	var levels []Level
	levelIndex := 0
	placed := make(map[string]bool, len(r.nodes))

	for len(placed) < len(r.nodes) {
		frontier := make([]string, 0)
		for _, id := range r.order {
			if placed[id] {
				continue
			}
			if remaining[id] == 0 {
				frontier = append(frontier, id)
			}
		}
		if len(frontier) == 0 {
			break // unreachable: acyclicity already verified by BuildGraph
		}

		sort.SliceStable(frontier, func(i, j int) bool {
			ni, nj := r.nodes[frontier[i]], r.nodes[frontier[j]]
			if ni.Priority != nj.Priority {
				return ni.Priority > nj.Priority // priority desc
			}
			return frontier[i] < frontier[j] // id asc
		})

		for _, id := range frontier {
			placed[id] = true
			r.levelOf[id] = levelIndex
			for _, dependent := range dependents[id] {
				remaining[dependent]--
			}
		}
		levels = append(levels, Level{TaskIDs: frontier})
		levelIndex++
	}

	return &ExecutionPlan{
		Levels:      levels,
		TotalTasks:  len(r.nodes),
		LongestPath: len(levels),
	}
}

// DetectCycle runs acyclicity detection alone, without computing a full
// ExecutionPlan — used by the decomposer to fail fast before ever
// handing a decomposition to a Resolver.
func DetectCycle(nodes []Node) error {
	if witness := findCycle(nodes); witness != nil {
		return &CycleError{Witness: witness}
	}
	return nil
}

// findCycle runs Kahn's algorithm and, if nodes remain unprocessed,
// extracts a witness cycle via DFS — directly ported from the teacher's
// DetectCyclicDependencies/findCyclePath.
func findCycle(tasks []Node) []string {
	inDegree := make(map[string]int)
	graph := make(map[string][]string) // dep -> dependents
	allNodes := make(map[string]bool)

	for _, t := range tasks {
		allNodes[t.ID] = true
		if _, ok := inDegree[t.ID]; !ok {
			inDegree[t.ID] = 0
		}
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if dep == t.ID || !allNodes[dep] {
				continue
			}
			graph[dep] = append(graph[dep], t.ID)
			inDegree[t.ID]++
		}
	}

	queue := make([]string, 0)
	for node, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, node)
		}
	}
	processed := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range graph[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if processed == len(allNodes) {
		return nil // acyclic
	}

	cycleNodes := make([]string, 0)
	for node, degree := range inDegree {
		if degree > 0 {
			cycleNodes = append(cycleNodes, node)
		}
	}
	sort.Strings(cycleNodes)
	return findCyclePath(graph, cycleNodes)
}

func findCyclePath(graph map[string][]string, cycleNodes []string) []string {
	if len(cycleNodes) == 0 {
		return []string{}
	}
	cycleSet := make(map[string]bool, len(cycleNodes))
	for _, n := range cycleNodes {
		cycleSet[n] = true
	}

	var dfs func(node string, path []string, visited map[string]bool) []string
	dfs = func(node string, path []string, visited map[string]bool) []string {
		if visited[node] {
			for i, n := range path {
				if n == node {
					return append(path[i:], node)
				}
			}
			return nil
		}
		if !cycleSet[node] {
			return nil
		}
		visited[node] = true
		path = append(path, node)
		for _, next := range graph[node] {
			if cycleSet[next] {
				if result := dfs(next, path, visited); result != nil {
					return result
				}
			}
		}
		return nil
	}

	for _, start := range cycleNodes {
		if result := dfs(start, nil, make(map[string]bool)); result != nil && len(result) > 1 {
			return result
		}
	}
	return cycleNodes
}
