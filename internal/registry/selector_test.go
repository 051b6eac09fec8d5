package registry

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swarmforge/swarmcore/internal/agentmodel"
	"github.com/swarmforge/swarmcore/internal/eventbus"
)

func TestSelectCandidatesFiltersBySkillAndStatus(t *testing.T) {
	reg := New(zap.NewNop(), eventbus.New())
	py := newTestAgent("py-agent", "python")
	go_ := newTestAgent("go-agent", "go")
	require.NoError(t, reg.Register(py))
	require.NoError(t, reg.Register(go_))
	require.NoError(t, reg.UpdateStatus(go_.ID, agentmodel.StatusPaused))

	sel := NewSelector(reg, nil)
	candidates := sel.SelectCandidates(Requirements{Skills: map[string]bool{"python": true}})

	require.Len(t, candidates, 1)
	assert.Equal(t, "py-agent", candidates[0].ID)
}

func TestSelectCandidatesIncludesBusyWithSlack(t *testing.T) {
	reg := New(zap.NewNop(), eventbus.New())
	a := newTestAgent("a1", "python")
	a.Capabilities.MaxConnections = 2
	require.NoError(t, reg.Register(a))
	require.NoError(t, reg.UpdateStatus("a1", agentmodel.StatusBusy))
	a.AcquireConnection()

	sel := NewSelector(reg, nil)
	candidates := sel.SelectCandidates(Requirements{Skills: map[string]bool{"python": true}})
	require.Len(t, candidates, 1)

	a.AcquireConnection() // now at max, no slack left
	candidates = sel.SelectCandidates(Requirements{Skills: map[string]bool{"python": true}})
	assert.Len(t, candidates, 0)
}

type stubOrderer struct{ reverse bool }

func (s stubOrderer) Order(candidates []*agentmodel.Agent, _ Requirements) []*agentmodel.Agent {
	out := make([]*agentmodel.Agent, len(candidates))
	copy(out, candidates)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if s.reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func TestSelectCandidatesDelegatesOrderingToStrategy(t *testing.T) {
	reg := New(zap.NewNop(), eventbus.New())
	require.NoError(t, reg.Register(newTestAgent("a1", "python")))
	require.NoError(t, reg.Register(newTestAgent("a2", "python")))

	sel := NewSelector(reg, stubOrderer{reverse: true})
	candidates := sel.SelectCandidates(Requirements{Skills: map[string]bool{"python": true}})
	require.Len(t, candidates, 2)
	assert.Equal(t, []string{"a2", "a1"}, []string{candidates[0].ID, candidates[1].ID})
}
