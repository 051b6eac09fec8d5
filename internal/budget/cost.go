// Package budget implements the Budget Enforcer and Cost Tracker from
// spec §4.7: per-agent cost sessions priced against a runtime/model rate
// table, and budgets scoped to agent/team/global that gate dispatch once
// a fraction of a limit is crossed.
//
// Grounded on the teacher's deleted internal/budget/manager.go (the
// session-lifecycle and threshold-crossing-event shape for cost
// accounting) and its internal/pricing package for the rate-table
// concept, generalized here into a model/runtime-keyed RateTable instead
// of the teacher's fixed provider price list.
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/swarmforge/swarmcore/internal/clock"
	"github.com/swarmforge/swarmcore/internal/errkind"
)

// RuntimeKind identifies the execution sandbox a CostSession ran in
// (spec §3: "e2b|kata|worktree|native").
type RuntimeKind string

const (
	RuntimeE2B      RuntimeKind = "e2b"
	RuntimeKata     RuntimeKind = "kata"
	RuntimeWorktree RuntimeKind = "worktree"
	RuntimeNative   RuntimeKind = "native"
)

// TokenCounts is a session's token usage (spec §3).
type TokenCounts struct {
	Prompt     int
	Completion int
}

func (t TokenCounts) Total() int { return t.Prompt + t.Completion }

// Rate prices one model: a flat hourly rate for wall-clock-billed
// runtimes, plus optional per-1k-token prompt/completion rates for
// token-billed models (spec §4.7: "cost = prompt/1000·promptRate +
// completion/1000·completionRate").
type Rate struct {
	PerHour            float64
	PromptPer1k        float64
	CompletionPer1k    float64
}

// RateTable maps a model identifier (or, absent one, a runtime kind) to
// its Rate.
type RateTable struct {
	mu    sync.RWMutex
	rates map[string]Rate
}

// NewRateTable builds a table seeded with initial, keyed by model
// identifier or runtime kind string.
func NewRateTable(initial map[string]Rate) *RateTable {
	rt := &RateTable{rates: make(map[string]Rate, len(initial))}
	for k, v := range initial {
		rt.rates[k] = v
	}
	return rt
}

// Set installs or overwrites the rate for key.
func (rt *RateTable) Set(key string, r Rate) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.rates[key] = r
}

// Get returns the rate for key, or the zero Rate if unset.
func (rt *RateTable) Get(key string) (Rate, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	r, ok := rt.rates[key]
	return r, ok
}

// CostSession tracks one agent's billed execution window (spec §3).
type CostSession struct {
	ID        string
	AgentID   string
	Runtime   RuntimeKind
	Model     string
	StartTime time.Time
	EndTime   *time.Time
	Tokens    TokenCounts

	mu sync.Mutex
}

// Cost computes the session's cost as of now: closed sessions return
// their final computed cost; open sessions return cost accrued so far.
func (s *CostSession) Cost(now time.Time, rates *RateTable) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	elapsed := end.Sub(s.StartTime)
	if elapsed < 0 {
		elapsed = 0
	}

	key := s.Model
	if key == "" {
		key = string(s.Runtime)
	}
	rate, ok := rates.Get(key)
	if !ok {
		return 0
	}

	if s.Tokens.Total() > 0 {
		return float64(s.Tokens.Prompt)/1000*rate.PromptPer1k + float64(s.Tokens.Completion)/1000*rate.CompletionPer1k
	}
	return elapsed.Hours() * rate.PerHour
}

// Close stamps the session's end time; it is a no-op if already closed.
func (s *CostSession) Close(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EndTime == nil {
		end := now
		s.EndTime = &end
	}
}

func (s *CostSession) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EndTime == nil
}

// Tracker starts/stops per-agent CostSessions and answers live cost
// queries (spec §4.7 "Cost Tracker").
type Tracker struct {
	rates *RateTable
	clk   clock.Clock

	mu       sync.RWMutex
	sessions map[string][]*CostSession // agentID -> sessions, newest last
	nextID   int
}

// NewTracker creates a Tracker priced against rates.
func NewTracker(rates *RateTable, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Tracker{rates: rates, clk: clk, sessions: make(map[string][]*CostSession)}
}

// StartSession opens a new CostSession for agentID and returns it.
func (t *Tracker) StartSession(agentID string, runtime RuntimeKind, model string) *CostSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	s := &CostSession{
		ID:        fmt.Sprintf("session-%d", t.nextID),
		AgentID:   agentID,
		Runtime:   runtime,
		Model:     model,
		StartTime: t.clk.Now(),
	}
	t.sessions[agentID] = append(t.sessions[agentID], s)
	return s
}

// StopSession closes sessionID for agentID; returns an error wrapping
// errkind.ErrInvariant if agentID has no session with that id. Stopping
// an already-closed session is a no-op.
func (t *Tracker) StopSession(agentID, sessionID string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.sessions[agentID] {
		if s.ID == sessionID {
			s.Close(t.clk.Now())
			return nil
		}
	}
	return errkind.New(errkind.InternalInvariant, "budget.unknown_session", "no such cost session", errkind.ErrInvariant)
}

// StopAllOpenSessions closes every open session for agentID (used by the
// Enforcer's stopRuntime on auto-stop).
func (t *Tracker) StopAllOpenSessions(agentID string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := t.clk.Now()
	for _, s := range t.sessions[agentID] {
		s.Close(now)
	}
}

// GetAgentCost sums closed-session cost plus accrued-so-far on any open
// session for agentID (spec §4.7 "getAgentCost(agentId)").
func (t *Tracker) GetAgentCost(agentID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := t.clk.Now()
	var total float64
	for _, s := range t.sessions[agentID] {
		total += s.Cost(now, t.rates)
	}
	return total
}

// Sessions returns a copy of the session slice tracked for agentID.
func (t *Tracker) Sessions(agentID string) []*CostSession {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*CostSession, len(t.sessions[agentID]))
	copy(out, t.sessions[agentID])
	return out
}
