package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmforge/swarmcore/internal/agentmodel"
	"github.com/swarmforge/swarmcore/internal/clock"
	"github.com/swarmforge/swarmcore/internal/eventbus"

	"go.uber.org/zap"
)

func newTestAgent(id string, skills ...string) *agentmodel.Agent {
	skillSet := make(map[string]bool, len(skills))
	for _, s := range skills {
		skillSet[s] = true
	}
	return agentmodel.New(id, agentmodel.Capabilities{Skills: skillSet, Reliability: 1})
}

func TestRegisterPublishesAndMovesToIdle(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(func(e eventbus.Event) bool { return e.Type == eventbus.TopicAgentRegistered })
	defer sub.Close()

	reg := New(zap.NewNop(), bus)
	a := newTestAgent("a1", "python")
	require.NoError(t, reg.Register(a))
	assert.Equal(t, agentmodel.StatusIdle, a.Status())

	select {
	case e := <-sub.Events():
		assert.Equal(t, eventbus.TopicAgentRegistered, e.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for agent.registered event")
	}
}

func TestClearThenRegisterYieldsExactlyTheNewPool(t *testing.T) {
	reg := New(zap.NewNop(), eventbus.New())
	require.NoError(t, reg.Register(newTestAgent("old-1")))
	require.NoError(t, reg.Register(newTestAgent("old-2")))

	reg.Clear()
	require.NoError(t, reg.Register(newTestAgent("new-1")))

	all := reg.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, "new-1", all[0].ID)
}

func TestUnregisterRefusesWhenInFlightUnlessForced(t *testing.T) {
	reg := New(zap.NewNop(), eventbus.New())
	a := newTestAgent("a1")
	require.NoError(t, reg.Register(a))

	busy := func(string) int { return 1 }
	err := reg.Unregister("a1", busy, nil, false)
	require.Error(t, err)
	_, ok := reg.GetByID("a1")
	assert.True(t, ok)

	err = reg.Unregister("a1", busy, nil, true)
	require.NoError(t, err)
	_, ok = reg.GetByID("a1")
	assert.False(t, ok)
	assert.Equal(t, agentmodel.StatusStopped, a.Status())
}

func TestUnregisterForcedInvokesEvictionHandler(t *testing.T) {
	reg := New(zap.NewNop(), eventbus.New())
	require.NoError(t, reg.Register(newTestAgent("a1")))

	var evictedID string
	busy := func(string) int { return 1 }
	err := reg.Unregister("a1", busy, func(agentID string) { evictedID = agentID }, true)
	require.NoError(t, err)
	assert.Equal(t, "a1", evictedID)
}

func TestHeartbeatRestoresUnhealthyToIdle(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	reg := New(zap.NewNop(), eventbus.New(), WithClock(fc))
	a := newTestAgent("a1")
	require.NoError(t, reg.Register(a))
	require.NoError(t, reg.UpdateStatus("a1", agentmodel.StatusUnhealthy))

	require.NoError(t, reg.Heartbeat("a1"))
	assert.Equal(t, agentmodel.StatusIdle, a.Status())
}

func TestLivenessSweepMarksStaleAgentsUnhealthy(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	reg := New(zap.NewNop(), eventbus.New(), WithClock(fc), WithLivenessTimeout(10*time.Second))
	a := newTestAgent("a1")
	require.NoError(t, reg.Register(a))

	fc.Advance(20 * time.Second)
	reg.sweepOnce()

	assert.Equal(t, agentmodel.StatusUnhealthy, a.Status())
}

func TestGetByStateFiltersConsistently(t *testing.T) {
	reg := New(zap.NewNop(), eventbus.New())
	require.NoError(t, reg.Register(newTestAgent("a1")))
	require.NoError(t, reg.Register(newTestAgent("a2")))
	require.NoError(t, reg.UpdateStatus("a2", agentmodel.StatusBusy))

	idle := reg.GetByState(agentmodel.StatusIdle)
	busy := reg.GetByState(agentmodel.StatusBusy)
	assert.Len(t, idle, 1)
	assert.Len(t, busy, 1)
}

func TestStartLivenessSweepStopIsIdempotent(t *testing.T) {
	reg := New(zap.NewNop(), eventbus.New(), WithLivenessTimeout(time.Millisecond))
	stop := reg.StartLivenessSweep(context.Background(), time.Millisecond)
	stop()
	stop()
}
