package budget

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/swarmforge/swarmcore/internal/clock"
	"github.com/swarmforge/swarmcore/internal/correlation"
	"github.com/swarmforge/swarmcore/internal/errkind"
	"github.com/swarmforge/swarmcore/internal/eventbus"
)

// Scope is a BudgetAccount's binding (spec §3).
type Scope string

const (
	ScopeAgent  Scope = "agent"
	ScopeTeam   Scope = "team"
	ScopeGlobal Scope = "global"
)

// Status is the derived state of a BudgetAccount (spec §3).
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusExceeded Status = "exceeded"
)

// Account is a BudgetAccount (spec §3): limit plus fractional
// warn/stop thresholds. Status is a pure function of currentSpend and
// the thresholds.
type Account struct {
	Scope           Scope
	Key             string // agentId, teamId, or "" for the global account
	Limit           float64
	WarningThreshold float64 // fraction of Limit
	StopThreshold    float64 // fraction of Limit

	mu           sync.Mutex
	currentSpend float64
	lastStatus   Status
}

func newAccount(scope Scope, key string, limit, warnFraction, stopFraction float64) *Account {
	return &Account{Scope: scope, Key: key, Limit: limit, WarningThreshold: warnFraction, StopThreshold: stopFraction, lastStatus: StatusOK}
}

// Status derives the account's status from currentSpend (spec §3
// invariant: "status is a pure function of currentSpend and
// thresholds").
func (a *Account) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusLocked()
}

func (a *Account) statusLocked() Status {
	if a.Limit <= 0 {
		return StatusOK
	}
	frac := a.currentSpend / a.Limit
	switch {
	case frac >= a.StopThreshold:
		return StatusExceeded
	case frac >= a.WarningThreshold:
		return StatusWarning
	default:
		return StatusOK
	}
}

// SetSpend updates currentSpend (never negative) and returns the
// (previous, current) status pair so callers can detect threshold
// crossings idempotently.
func (a *Account) SetSpend(spend float64) (Status, Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if spend < 0 {
		spend = 0
	}
	a.currentSpend = spend
	prev := a.lastStatus
	next := a.statusLocked()
	a.lastStatus = next
	return prev, next
}

func (a *Account) CurrentSpend() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentSpend
}

// Enforcement is checkEnforcement's three-way verdict (spec §4.7).
type Enforcement string

const (
	EnforcementNone Enforcement = "none"
	EnforcementWarn Enforcement = "warn"
	EnforcementStop Enforcement = "stop"
)

// RuntimeStopper is the narrow callback the Enforcer uses to stop an
// agent's runtime on auto-stop (spec §4.7 "stopRuntime(agentId) (updates
// agent status to stopped, closes the cost session, emits
// runtime.stopped)"). Implemented by a small adapter over agentmodel and
// the Tracker, wired by the caller to avoid an import cycle back to
// internal/registry.
type RuntimeStopper interface {
	StopRuntime(agentID string) error
}

// Enforcer maps budgets by scope and answers checkEnforcement calls
// against the Tracker's live cost figures.
type Enforcer struct {
	tracker *Tracker
	bus     eventPublisher
	clk     clock.Clock
	limiter *rate.Limiter

	autoStop bool
	stopper  RuntimeStopper

	mu       sync.RWMutex
	accounts map[string]*Account // "<scope>:<key>" -> account
}

type eventPublisher interface {
	Publish(eventbus.Event)
}

// Option configures an Enforcer at construction.
type Option func(*Enforcer)

// WithAutoStop enables stopRuntime on a stop verdict.
func WithAutoStop(stopper RuntimeStopper) Option {
	return func(e *Enforcer) {
		e.autoStop = true
		e.stopper = stopper
	}
}

// WithBackpressure installs a token-bucket limiter consulted by
// WaitForCapacity when an account is in warn status, so dispatch slows
// down gracefully instead of stopping outright (spec §4.7's warn
// semantics, extended per the backpressureThreshold/maxBackpressureDelay
// knobs the teacher's deleted budget manager exposed).
func WithBackpressure(eventsPerSecond float64, burst int) Option {
	return func(e *Enforcer) {
		e.limiter = rate.NewLimiter(rate.Limit(eventsPerSecond), burst)
	}
}

// NewEnforcer creates an Enforcer backed by tracker, publishing
// threshold-crossing events to bus.
func NewEnforcer(tracker *Tracker, bus eventPublisher, clk clock.Clock, opts ...Option) *Enforcer {
	if clk == nil {
		clk = clock.Real{}
	}
	e := &Enforcer{tracker: tracker, bus: bus, clk: clk, accounts: make(map[string]*Account)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func accountKey(scope Scope, key string) string { return fmt.Sprintf("%s:%s", scope, key) }

// SetBudget installs or replaces the account for (scope, key).
func (e *Enforcer) SetBudget(scope Scope, key string, limit, warnFraction, stopFraction float64) *Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	acc := newAccount(scope, key, limit, warnFraction, stopFraction)
	e.accounts[accountKey(scope, key)] = acc
	return acc
}

func (e *Enforcer) account(scope Scope, key string) (*Account, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	acc, ok := e.accounts[accountKey(scope, key)]
	return acc, ok
}

// CheckEnforcement evaluates every scope bound to agentID (agent, team
// via teamID if non-empty, global) and returns the most severe verdict,
// emitting idempotent threshold-crossing events along the way (spec
// §4.7).
func (e *Enforcer) CheckEnforcement(agentID, teamID string) Enforcement {
	verdict := EnforcementNone

	check := func(scope Scope, key string) {
		acc, ok := e.account(scope, key)
		if !ok {
			return
		}
		spend := e.tracker.GetAgentCost(agentID)
		if scope != ScopeAgent {
			// team/global scopes track an independently-fed spend figure;
			// callers update these via SetBudget + a separate SetSpend call
			// driven by aggregated cost, not per-agent tracker lookups.
			spend = acc.CurrentSpend()
		}
		prev, next := acc.SetSpend(spend)
		e.emitTransition(acc, prev, next)

		switch next {
		case StatusExceeded:
			verdict = EnforcementStop
		case StatusWarning:
			if verdict != EnforcementStop {
				verdict = EnforcementWarn
			}
		}
	}

	check(ScopeAgent, agentID)
	if teamID != "" {
		check(ScopeTeam, teamID)
	}
	check(ScopeGlobal, "")

	if verdict == EnforcementStop && e.autoStop && e.stopper != nil {
		_ = e.stopper.StopRuntime(agentID)
		e.publish(eventbus.TopicRuntimeStopped, agentID, map[string]any{"agentId": agentID})
	}
	return verdict
}

// emitTransition fires cost.threshold_warning / cost.threshold_exceeded
// only on the edge into that status, never on a repeat (spec §4.7:
// "Events are idempotent per (scope, threshold) edge").
func (e *Enforcer) emitTransition(acc *Account, prev, next Status) {
	if prev == next {
		return
	}
	switch next {
	case StatusWarning:
		e.publish(eventbus.TopicCostWarning, acc.Key, map[string]any{"scope": acc.Scope, "key": acc.Key})
	case StatusExceeded:
		e.publish(eventbus.TopicCostExceeded, acc.Key, map[string]any{"scope": acc.Scope, "key": acc.Key})
	}
}

func (e *Enforcer) publish(topic, sourceID string, payload any) {
	if e.bus == nil {
		return
	}
	e.publishAt(topic, sourceID, payload, e.clk.Now())
}

func (e *Enforcer) publishAt(topic, sourceID string, payload any, now time.Time) {
	e.bus.Publish(eventbus.New(now, topic, sourceID, payload, correlation.New()))
}

// WaitForCapacity blocks (in real time, via the installed limiter) when
// backpressure is configured and the agent's budget is in warn status,
// giving dispatch a chance to drain before the account tips into stop.
// It returns immediately if no limiter is configured or the account is
// not in warn status.
func (e *Enforcer) WaitForCapacity(agentID string) error {
	if e.limiter == nil {
		return nil
	}
	acc, ok := e.account(ScopeAgent, agentID)
	if !ok || acc.Status() != StatusWarning {
		return nil
	}
	r := e.limiter.Reserve()
	if !r.OK() {
		return errkind.New(errkind.Capacity, "budget.backpressure_unavailable", "backpressure limiter cannot accommodate request", nil)
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}
	return e.clk.Sleep(delay, nil)
}
