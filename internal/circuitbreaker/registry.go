package circuitbreaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swarmforge/swarmcore/internal/clock"
	"github.com/swarmforge/swarmcore/internal/correlation"
	"github.com/swarmforge/swarmcore/internal/eventbus"
)

// Registry indexes breakers by name (typically an agent id) and
// provides the bulk operations spec §4.6 requires: openAll,
// forceCloseAll, snapshot.
type Registry struct {
	config Config
	logger *zap.Logger
	clk    clock.Clock
	bus    eventPublisher

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a Registry that lazily creates a breaker per name
// using config as the template for every new breaker.
func NewRegistry(config Config, logger *zap.Logger, bus eventPublisher, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{config: config, logger: logger, clk: clk, bus: bus, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for name, creating it (wired to publish
// breaker.state_changed) on first use.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cfg := r.config
	userCallback := cfg.OnStateChange
	cfg.OnStateChange = func(breakerName string, from, to State) {
		if userCallback != nil {
			userCallback(breakerName, from, to)
		}
		ObserveStateChange(breakerName, from, to)
		r.publishStateChange(breakerName, from, to)
	}
	cb = New(name, cfg, r.logger, r.clk)
	r.breakers[name] = cb
	return cb
}

func (r *Registry) publishStateChange(name string, from, to State) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.New(r.clk.Now(), eventbus.TopicBreakerStateChanged, name, map[string]any{
		"breaker": name,
		"from":    from.String(),
		"to":      to.String(),
	}, correlation.New()))
}

// OpenAll force-opens every registered breaker.
func (r *Registry) OpenAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		cb.ForceOpen()
	}
}

// ForceCloseAll force-closes every registered breaker.
func (r *Registry) ForceCloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		cb.ForceClose()
	}
}

// Snapshot returns a Snapshot per registered breaker, keyed by name.
func (r *Registry) Snapshot() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Snapshot, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.Snapshot()
	}
	return out
}

// FailureRate returns ConsecutiveFailures / (ConsecutiveFailures +
// ConsecutiveSuccesses) from the current generation's counts, or 0 when
// both are zero. The window argument is not used: per-call timestamps
// are not retained. Successes are only counted in the half-open state,
// so in the closed state the result is 1 whenever there is an unbroken
// run of failures and 0 otherwise.
func (cb *CircuitBreaker) FailureRate(window time.Duration) float64 {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	total := cb.counts.ConsecutiveFailures + cb.counts.ConsecutiveSuccesses
	if total == 0 {
		return 0
	}
	return float64(cb.counts.ConsecutiveFailures) / float64(total)
}
