// Package circuitbreaker implements the per-agent Circuit Breaker from
// spec §4.6: three states (closed, open, half-open), generation-based
// counter resets, and a manual-override + bulk-operations Registry.
//
// Grounded on the teacher's internal/circuitbreaker/circuit_breaker.go
// (the beforeRequest/afterRequest/currentState/setState/toNewGeneration
// shape, itself a sony/gobreaker-style state machine), generalized from
// a fixed interval-based closed-state reset into the spec's
// consecutiveFailures/consecutiveSuccesses model and widened with a
// half-open trial-call admission cap, openedAt/rejectedCalls/lastError
// bookkeeping, and forceOpen/forceClose/reset overrides that emit
// breaker.state_changed.
package circuitbreaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swarmforge/swarmcore/internal/clock"
	"github.com/swarmforge/swarmcore/internal/errkind"
	"github.com/swarmforge/swarmcore/internal/eventbus"
)

// State is one of the breaker's three states (spec §4.6).
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds one breaker's thresholds (spec §4.6: "config:
// failureThreshold F, successThreshold S, resetTimeout T,
// halfOpenMaxCalls H").
type Config struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	ResetTimeout     time.Duration
	HalfOpenMaxCalls uint32
	OnStateChange    func(name string, from, to State)
}

// DefaultConfig returns the teacher's defaults, renamed to the spec's
// field names.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     10 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// Counts mirrors CircuitBreakerState's counters (spec §3); Requests is
// reset every generation, TotalCalls and RejectedCalls are lifetime.
type Counts struct {
	Requests             uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
	TotalCalls           uint64
	RejectedCalls        uint64
}

// CircuitBreaker is a single-agent breaker.
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger
	clk    clock.Clock

	mu         sync.RWMutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
	openedAt   time.Time
	lastError  error
}

// New creates a breaker in the closed state.
func New(name string, config Config, logger *zap.Logger, clk clock.Clock) *CircuitBreaker {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
		clk:    clk,
		state:  StateClosed,
	}
}

// Execute runs fn if the breaker admits the call; otherwise it returns
// errkind.ErrCircuitOpen (wrapping a *errkind.Error of kind CircuitOpen),
// or invokes fallback if one is supplied.
func (cb *CircuitBreaker) Execute(fn func() error, fallback func(error) error) error {
	generation, err := cb.beforeRequest()
	if err != nil {
		if fallback != nil {
			return fallback(err)
		}
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(generation, false, errkind.ErrInvariant)
			panic(r)
		}
	}()

	err = fn()
	cb.afterRequest(generation, err == nil, err)
	return err
}

// State returns the current state, advancing open->half-open if the
// reset timeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state, _ := cb.currentState(cb.clk.Now())
	return state
}

// Counts returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.counts
}

// Snapshot is the read-only view exposed by Registry.Snapshot (spec §3
// CircuitBreakerState plus §4.6 metrics).
type Snapshot struct {
	Name                 string
	State                State
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
	OpenedAt             time.Time
	TotalCalls           uint64
	RejectedCalls        uint64
	LastError            error
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state, _ := cb.currentState(cb.clk.Now())
	return Snapshot{
		Name:                 cb.name,
		State:                state,
		ConsecutiveFailures:  cb.counts.ConsecutiveFailures,
		ConsecutiveSuccesses: cb.counts.ConsecutiveSuccesses,
		OpenedAt:             cb.openedAt,
		TotalCalls:           cb.counts.TotalCalls,
		RejectedCalls:        cb.counts.RejectedCalls,
		LastError:            cb.lastError,
	}
}

func (cb *CircuitBreaker) beforeRequest() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clk.Now()
	state, generation := cb.currentState(now)
	cb.counts.TotalCalls++

	if state == StateOpen {
		cb.counts.RejectedCalls++
		return generation, errkind.Wrap(errkind.CircuitOpen, "breaker.open", errkind.ErrCircuitOpen)
	}
	if state == StateHalfOpen && cb.counts.Requests >= cb.config.HalfOpenMaxCalls {
		cb.counts.RejectedCalls++
		return generation, errkind.Wrap(errkind.CircuitOpen, "breaker.half_open_saturated", errkind.ErrCircuitOpen)
	}

	cb.counts.Requests++
	return generation, nil
}

func (cb *CircuitBreaker) afterRequest(before uint64, success bool, resultErr error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clk.Now()
	state, generation := cb.currentState(now)
	if generation != before {
		return
	}
	cb.lastError = nil
	if !success {
		cb.lastError = resultErr
	}

	if success {
		cb.onSuccess(state, now)
	} else {
		cb.onFailure(state, now)
	}
}

func (cb *CircuitBreaker) currentState(now time.Time) (State, uint64) {
	if cb.state == StateOpen && !cb.expiry.IsZero() && !cb.expiry.After(now) {
		cb.setState(StateHalfOpen, now)
	}
	return cb.state, cb.generation
}

func (cb *CircuitBreaker) onSuccess(state State, now time.Time) {
	switch state {
	case StateClosed:
		cb.counts.ConsecutiveFailures = 0
	case StateHalfOpen:
		cb.counts.ConsecutiveSuccesses++
		if cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.setState(StateClosed, now)
		}
	}
}

func (cb *CircuitBreaker) onFailure(state State, now time.Time) {
	switch state {
	case StateClosed:
		cb.counts.ConsecutiveFailures++
		if cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

// setState transitions the breaker, clearing per-generation counters
// and invoking OnStateChange; callers hold cb.mu.
func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}
	prev := cb.state
	cb.state = state
	cb.toNewGeneration(now)
	if state == StateOpen {
		cb.openedAt = now
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
	cb.logger.Info("circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
	)
}

func (cb *CircuitBreaker) toNewGeneration(now time.Time) {
	cb.generation++
	cb.counts.Requests = 0
	cb.counts.ConsecutiveFailures = 0
	cb.counts.ConsecutiveSuccesses = 0

	switch cb.state {
	case StateOpen:
		cb.expiry = now.Add(cb.config.ResetTimeout)
	default:
		cb.expiry = time.Time{}
	}
}

// ForceOpen manually opens the breaker (spec §4.6 "manual overrides").
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateOpen, cb.clk.Now())
}

// ForceClose manually closes the breaker.
func (cb *CircuitBreaker) ForceClose() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed, cb.clk.Now())
}

// Reset forces the breaker closed and clears lifetime counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed, cb.clk.Now())
	cb.counts = Counts{}
	cb.lastError = nil
	cb.openedAt = time.Time{}
}

// eventPublisher is the narrow slice of eventbus.Bus the breaker
// Registry needs, so tests can substitute an eventbus.Recorder.
type eventPublisher interface {
	Publish(eventbus.Event)
}
