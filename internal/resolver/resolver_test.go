package resolver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmforge/swarmcore/internal/errkind"
)

func TestBuildGraphLevelsRespectDependencies(t *testing.T) {
	r := New()
	err := r.BuildGraph([]Node{
		{ID: "a", Dependencies: nil},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"a"}},
		{ID: "d", Dependencies: []string{"b", "c"}},
	})
	require.NoError(t, err)

	plan, err := r.GetExecutionPlan()
	require.NoError(t, err)
	require.Len(t, plan.Levels, 3)
	assert.Equal(t, []string{"a"}, plan.Levels[0].TaskIDs)
	assert.ElementsMatch(t, []string{"b", "c"}, plan.Levels[1].TaskIDs)
	assert.Equal(t, []string{"d"}, plan.Levels[2].TaskIDs)
	assert.Equal(t, 4, plan.TotalTasks)
	assert.Equal(t, 3, plan.LongestPath)
}

func TestBuildGraphBreaksTiesByPriorityThenID(t *testing.T) {
	r := New()
	err := r.BuildGraph([]Node{
		{ID: "z", Priority: PriorityLow},
		{ID: "a", Priority: PriorityCritical},
		{ID: "m", Priority: PriorityCritical},
	})
	require.NoError(t, err)

	plan, err := r.GetExecutionPlan()
	require.NoError(t, err)
	require.Len(t, plan.Levels, 1)
	assert.Equal(t, []string{"a", "m", "z"}, plan.Levels[0].TaskIDs)
}

func TestBuildGraphDetectsCycle(t *testing.T) {
	r := New()
	err := r.BuildGraph([]Node{
		{ID: "a", Dependencies: []string{"c"}},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"b"}},
	})
	require.Error(t, err)

	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.True(t, errors.Is(err, errkind.ErrCycle))
	assert.NotEmpty(t, cycleErr.Witness)
}

func TestBuildGraphRejectsUnknownDependency(t *testing.T) {
	r := New()
	err := r.BuildGraph([]Node{{ID: "a", Dependencies: []string{"ghost"}}})
	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errkind.FatalInput, kind)
}

func TestAreDependenciesMet(t *testing.T) {
	r := New()
	require.NoError(t, r.BuildGraph([]Node{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
	}))

	assert.False(t, r.AreDependenciesMet("b", map[string]bool{}))
	assert.True(t, r.AreDependenciesMet("b", map[string]bool{"a": true}))
	assert.True(t, r.AreDependenciesMet("a", map[string]bool{}))
}

func TestGetExecutionPlanIdempotent(t *testing.T) {
	r := New()
	require.NoError(t, r.BuildGraph([]Node{{ID: "a"}, {ID: "b", Dependencies: []string{"a"}}}))

	first, err := r.GetExecutionPlan()
	require.NoError(t, err)
	second, err := r.GetExecutionPlan()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestGetExecutionPlanBeforeBuildGraphFails(t *testing.T) {
	r := New()
	_, err := r.GetExecutionPlan()
	require.Error(t, err)
}

func TestDetectCycleStandalone(t *testing.T) {
	assert.NoError(t, DetectCycle([]Node{{ID: "a"}, {ID: "b", Dependencies: []string{"a"}}}))
	assert.Error(t, DetectCycle([]Node{{ID: "a", Dependencies: []string{"b"}}, {ID: "b", Dependencies: []string{"a"}}}))
}
