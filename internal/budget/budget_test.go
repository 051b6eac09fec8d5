package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmforge/swarmcore/internal/clock"
	"github.com/swarmforge/swarmcore/internal/eventbus"
)

func TestCostSessionHourlyAccrual(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	rates := NewRateTable(map[string]Rate{"native": {PerHour: 10}})
	tracker := NewTracker(rates, fc)

	s := tracker.StartSession("agent-1", RuntimeNative, "")
	fc.Advance(30 * time.Minute)
	assert.InDelta(t, 5.0, tracker.GetAgentCost("agent-1"), 1e-9)

	require.NoError(t, tracker.StopSession("agent-1", s.ID))
	fc.Advance(30 * time.Minute)
	assert.InDelta(t, 5.0, tracker.GetAgentCost("agent-1"), 1e-9, "cost frozen after close")
}

func TestCostSessionTokenBasedPricing(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	rates := NewRateTable(map[string]Rate{"gpt-x": {PromptPer1k: 1.0, CompletionPer1k: 2.0}})
	tracker := NewTracker(rates, fc)

	s := tracker.StartSession("agent-1", RuntimeNative, "gpt-x")
	s.Tokens = TokenCounts{Prompt: 2000, Completion: 1000}
	assert.InDelta(t, 4.0, tracker.GetAgentCost("agent-1"), 1e-9)
}

func TestAccountStatusThresholds(t *testing.T) {
	acc := newAccount(ScopeAgent, "a1", 100, 0.7, 0.9)
	assert.Equal(t, StatusOK, acc.Status())

	acc.SetSpend(75)
	assert.Equal(t, StatusWarning, acc.Status())

	acc.SetSpend(95)
	assert.Equal(t, StatusExceeded, acc.Status())
}

func TestCheckEnforcementFiresIdempotentEvents(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	rates := NewRateTable(map[string]Rate{"native": {PerHour: 100}})
	tracker := NewTracker(rates, fc)
	rec := eventbus.NewRecorder()
	enf := NewEnforcer(tracker, rec, fc)
	enf.SetBudget(ScopeAgent, "agent-1", 100, 0.5, 0.9)

	tracker.StartSession("agent-1", RuntimeNative, "")
	fc.Advance(30 * time.Minute) // 50 spent -> at warning threshold exactly

	verdict := enf.CheckEnforcement("agent-1", "")
	assert.Equal(t, EnforcementWarn, verdict)

	verdict = enf.CheckEnforcement("agent-1", "")
	assert.Equal(t, EnforcementWarn, verdict)

	warnings := 0
	for _, e := range rec.Events() {
		if e.Type == eventbus.TopicCostWarning {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings, "warning should fire once, not on every check")
}

func TestCheckEnforcementStopsAndAutoStops(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	rates := NewRateTable(map[string]Rate{"native": {PerHour: 100}})
	tracker := NewTracker(rates, fc)
	rec := eventbus.NewRecorder()
	stopper := &fakeStopper{}
	enf := NewEnforcer(tracker, rec, fc, WithAutoStop(stopper))
	enf.SetBudget(ScopeAgent, "agent-1", 100, 0.5, 0.9)

	s := tracker.StartSession("agent-1", RuntimeNative, "")
	fc.Advance(55 * time.Minute)

	verdict := enf.CheckEnforcement("agent-1", "")
	assert.Equal(t, EnforcementStop, verdict)
	assert.True(t, stopper.called)
	assert.Equal(t, "agent-1", stopper.agentID)
	_ = s
}

type fakeStopper struct {
	called  bool
	agentID string
}

func (f *fakeStopper) StopRuntime(agentID string) error {
	f.called = true
	f.agentID = agentID
	return nil
}
