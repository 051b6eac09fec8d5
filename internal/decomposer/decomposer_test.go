package decomposer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmforge/swarmcore/internal/errkind"
)

func TestDecomposeComponentBasedProducesOneSubtaskPerComponent(t *testing.T) {
	d := New()
	subtasks, err := d.Decompose(ComponentBased, Intent{
		Goal:  "ship the widget",
		Hints: map[string]any{"components": []string{"frontend", "backend"}},
	})
	require.NoError(t, err)
	require.Len(t, subtasks, 2)
	for _, st := range subtasks {
		assert.Empty(t, st.Dependencies)
	}
}

func TestDecomposeDomainBasedChainsThroughDiscovery(t *testing.T) {
	d := New()
	subtasks, err := d.Decompose(DomainBased, Intent{
		Goal:  "launch checkout",
		Hints: map[string]any{"domains": []string{"payments", "inventory"}},
	})
	require.NoError(t, err)
	require.Len(t, subtasks, 3)
	for _, st := range subtasks {
		if st.ID == "domain-discovery" {
			continue
		}
		assert.Equal(t, []string{"domain-discovery"}, st.Dependencies)
	}
}

func TestDecomposeFileBasedEmptyHintsIsDecompositionEmpty(t *testing.T) {
	d := New()
	_, err := d.Decompose(FileBased, Intent{Goal: "rename symbol"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errkind.ErrDecompositionEmpty))
}

func TestDecomposePipelineChainsSequentially(t *testing.T) {
	d := New()
	subtasks, err := d.Decompose(Pipeline, Intent{Goal: "release v2"})
	require.NoError(t, err)
	require.Len(t, subtasks, 3)
	assert.Empty(t, subtasks[0].Dependencies)
	assert.Equal(t, []string{subtasks[0].ID}, subtasks[1].Dependencies)
	assert.Equal(t, []string{subtasks[1].ID}, subtasks[2].Dependencies)
}

func TestDecomposeUnknownStrategy(t *testing.T) {
	d := New()
	_, err := d.Decompose(Name("nonexistent"), Intent{Goal: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errkind.ErrUnknownStrategy))
}

func TestDecomposeRejectsCycle(t *testing.T) {
	d := New()
	d.Register("cyclic", func(Intent) ([]Subtask, error) {
		return []Subtask{
			{ID: "a", Dependencies: []string{"b"}},
			{ID: "b", Dependencies: []string{"a"}},
		}, nil
	})
	_, err := d.Decompose("cyclic", Intent{Goal: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errkind.ErrCycle))
}

func TestDecomposeRejectsUnknownDependency(t *testing.T) {
	d := New()
	d.Register("bad", func(Intent) ([]Subtask, error) {
		return []Subtask{{ID: "a", Dependencies: []string{"ghost"}}}, nil
	})
	_, err := d.Decompose("bad", Intent{Goal: "x"})
	require.Error(t, err)
}

func TestDecomposeRejectsDuplicateID(t *testing.T) {
	d := New()
	d.Register("dup", func(Intent) ([]Subtask, error) {
		return []Subtask{{ID: "a"}, {ID: "a"}}, nil
	})
	_, err := d.Decompose("dup", Intent{Goal: "x"})
	require.Error(t, err)
}

func TestRegisterOverridesStrategy(t *testing.T) {
	d := New()
	called := false
	d.Register(ComponentBased, func(Intent) ([]Subtask, error) {
		called = true
		return []Subtask{{ID: "only"}}, nil
	})
	_, err := d.Decompose(ComponentBased, Intent{Goal: "x"})
	require.NoError(t, err)
	assert.True(t, called)
}
