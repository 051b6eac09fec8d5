package decomposer

import (
	"fmt"
	"sort"
)

// defaultRetry is used by strategies that don't derive a retry budget
// from hints.
var defaultRetry = RetryPolicy{MaxAttempts: 3, InitialDelayMs: 500, BackoffMultiplier: 2.0}

func skillSet(skills ...string) map[string]bool {
	out := make(map[string]bool, len(skills))
	for _, s := range skills {
		out[s] = true
	}
	return out
}

func stringSliceHint(hints map[string]any, key string) []string {
	raw, ok := hints[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// componentBasedStrategy splits the goal across the architectural
// components named in intent.Hints["components"] (e.g. "frontend",
// "backend", "database"), one subtask per component, all independent
// (no dependencies) since components are assumed to be developed in
// parallel.
func componentBasedStrategy(intent Intent) ([]Subtask, error) {
	components := stringSliceHint(intent.Hints, "components")
	if len(components) == 0 {
		components = []string{"default"}
	}
	subtasks := make([]Subtask, 0, len(components))
	for i, c := range components {
		subtasks = append(subtasks, Subtask{
			ID:             fmt.Sprintf("component-%d-%s", i, c),
			Name:           fmt.Sprintf("implement %s: %s", c, intent.Goal),
			RequiredSkills: skillSet(c),
			Priority:       PriorityMedium,
			TimeoutMs:      600000,
			Retry:          defaultRetry,
			Payload:        map[string]any{"component": c, "goal": intent.Goal},
		})
	}
	return subtasks, nil
}

// domainBasedStrategy splits the goal across the business domains named
// in intent.Hints["domains"], each domain subtask depending on a shared
// "discovery" subtask that establishes cross-domain contracts first.
func domainBasedStrategy(intent Intent) ([]Subtask, error) {
	domains := stringSliceHint(intent.Hints, "domains")
	if len(domains) == 0 {
		domains = []string{"core"}
	}

	discoveryID := "domain-discovery"
	subtasks := []Subtask{{
		ID:             discoveryID,
		Name:           "establish cross-domain contracts: " + intent.Goal,
		RequiredSkills: skillSet("analysis"),
		Priority:       PriorityHigh,
		TimeoutMs:      300000,
		Retry:          defaultRetry,
		Payload:        map[string]any{"goal": intent.Goal},
	}}
	for i, d := range domains {
		subtasks = append(subtasks, Subtask{
			ID:             fmt.Sprintf("domain-%d-%s", i, d),
			Name:           fmt.Sprintf("implement domain %s: %s", d, intent.Goal),
			RequiredSkills: skillSet(d),
			Priority:       PriorityMedium,
			Dependencies:   []string{discoveryID},
			TimeoutMs:      600000,
			Retry:          defaultRetry,
			Payload:        map[string]any{"domain": d, "goal": intent.Goal},
		})
	}
	return subtasks, nil
}

// fileBasedStrategy emits one independent subtask per file named in
// intent.Hints["files"], sorted for determinism. Useful when the goal is
// already scoped to a known file set (e.g. a refactor or migration).
func fileBasedStrategy(intent Intent) ([]Subtask, error) {
	files := stringSliceHint(intent.Hints, "files")
	if len(files) == 0 {
		return nil, nil
	}
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	subtasks := make([]Subtask, 0, len(sorted))
	for i, f := range sorted {
		subtasks = append(subtasks, Subtask{
			ID:             fmt.Sprintf("file-%d", i),
			Name:           fmt.Sprintf("apply change to %s: %s", f, intent.Goal),
			RequiredSkills: skillSet("code-edit"),
			Priority:       PriorityMedium,
			TimeoutMs:      300000,
			Retry:          defaultRetry,
			Payload:        map[string]any{"file": f, "goal": intent.Goal},
		})
	}
	return subtasks, nil
}

// pipelineStrategy chains the stages named in intent.Hints["stages"] (or
// a sensible default plan/implement/verify pipeline) into a strictly
// sequential dependency chain, one subtask per stage.
func pipelineStrategy(intent Intent) ([]Subtask, error) {
	stages := stringSliceHint(intent.Hints, "stages")
	if len(stages) == 0 {
		stages = []string{"plan", "implement", "verify"}
	}

	subtasks := make([]Subtask, len(stages))
	var prevID string
	for i, stage := range stages {
		id := fmt.Sprintf("pipeline-%d-%s", i, stage)
		var deps []string
		if prevID != "" {
			deps = []string{prevID}
		}
		priority := PriorityMedium
		if i == 0 {
			priority = PriorityHigh
		}
		subtasks[i] = Subtask{
			ID:             id,
			Name:           fmt.Sprintf("%s: %s", stage, intent.Goal),
			RequiredSkills: skillSet(stage),
			Priority:       priority,
			Dependencies:   deps,
			TimeoutMs:      600000,
			Retry:          defaultRetry,
			Payload:        map[string]any{"stage": stage, "goal": intent.Goal},
		}
		prevID = id
	}
	return subtasks, nil
}
