// Package swarmconfig is the single typed configuration record for the
// swarm core, enumerating exactly the options named in spec §6. Config
// loading from a file or environment is out of scope (a non-goal); this
// package only defines the struct, its defaults, and validation, mirroring
// how the teacher's ShannonConfig is a plain struct populated elsewhere
// (internal/config/shannon_config.go) rather than a file-watching
// singleton.
package swarmconfig

import "fmt"

// EngineConfig holds spec.engine.* options.
type EngineConfig struct {
	RetryAttempts          int
	RetryDelayMs           int
	RetryBackoffMultiplier float64
	ContinueOnFailure      bool
	ConcurrencyLimit       int
}

// BreakerConfig holds spec.breaker.* options.
type BreakerConfig struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	ResetTimeoutMs   int
	HalfOpenMaxCalls uint32
}

// BudgetConfig holds spec.budget.* options.
type BudgetConfig struct {
	AutoStop     bool
	WarnFraction float64
	StopFraction float64
}

// StrategyConfig holds spec.strategy.* options.
type StrategyConfig struct {
	Weights      Weights
	RingReplicas int
}

// Weights mirrors strategy.Weighted's scoring weights (kept as a plain
// struct here, independent of the strategy package, so swarmconfig has
// no dependency on it).
type Weights struct {
	Cost        float64
	Speed       float64
	Reliability float64
}

// RegistryConfig holds spec.registry.* options.
type RegistryConfig struct {
	LivenessTimeoutMs int
}

// Config is the full set of recognized options (spec §6). Unknown keys
// simply don't exist on this struct — there is no dynamic key lookup to
// reject them from, by construction.
type Config struct {
	Engine   EngineConfig
	Breaker  BreakerConfig
	Budget   BudgetConfig
	Strategy StrategyConfig
	Registry RegistryConfig
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		Engine: EngineConfig{
			RetryAttempts:          3,
			RetryDelayMs:           100,
			RetryBackoffMultiplier: 2,
			ContinueOnFailure:      false,
			ConcurrencyLimit:       0, // 0 means "level size", per spec §4.5
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			ResetTimeoutMs:   30000,
			HalfOpenMaxCalls: 1,
		},
		Budget: BudgetConfig{
			AutoStop:     false,
			WarnFraction: 0.8,
			StopFraction: 1.0,
		},
		Strategy: StrategyConfig{
			Weights:      Weights{Cost: 1.0 / 3, Speed: 1.0 / 3, Reliability: 1.0 / 3},
			RingReplicas: 150,
		},
		Registry: RegistryConfig{
			LivenessTimeoutMs: 30000,
		},
	}
}

const weightSumTolerance = 1e-9

// Validate rejects out-of-range values: negative retry/timeout knobs,
// strategy weights that don't sum to 1, and warn/stop fractions outside
// (0,1] with warn > stop.
func (c Config) Validate() error {
	if c.Engine.RetryAttempts < 0 {
		return fmt.Errorf("swarmconfig: engine.retryAttempts must be >= 0")
	}
	if c.Engine.RetryDelayMs < 0 {
		return fmt.Errorf("swarmconfig: engine.retryDelayMs must be >= 0")
	}
	if c.Engine.RetryBackoffMultiplier < 1 {
		return fmt.Errorf("swarmconfig: engine.retryBackoffMultiplier must be >= 1")
	}
	if c.Engine.ConcurrencyLimit < 0 {
		return fmt.Errorf("swarmconfig: engine.concurrencyLimit must be >= 0")
	}

	if c.Breaker.FailureThreshold == 0 {
		return fmt.Errorf("swarmconfig: breaker.failureThreshold must be >= 1")
	}
	if c.Breaker.SuccessThreshold == 0 {
		return fmt.Errorf("swarmconfig: breaker.successThreshold must be >= 1")
	}
	if c.Breaker.ResetTimeoutMs < 0 {
		return fmt.Errorf("swarmconfig: breaker.resetTimeoutMs must be >= 0")
	}
	if c.Breaker.HalfOpenMaxCalls == 0 {
		return fmt.Errorf("swarmconfig: breaker.halfOpenMaxCalls must be >= 1")
	}

	if c.Budget.WarnFraction <= 0 || c.Budget.WarnFraction > 1 {
		return fmt.Errorf("swarmconfig: budget.warnFraction must be in (0,1]")
	}
	if c.Budget.StopFraction <= 0 || c.Budget.StopFraction > 1 {
		return fmt.Errorf("swarmconfig: budget.stopFraction must be in (0,1]")
	}
	if c.Budget.WarnFraction > c.Budget.StopFraction {
		return fmt.Errorf("swarmconfig: budget.warnFraction must be <= budget.stopFraction")
	}

	sum := c.Strategy.Weights.Cost + c.Strategy.Weights.Speed + c.Strategy.Weights.Reliability
	if sum < 1-weightSumTolerance || sum > 1+weightSumTolerance {
		return fmt.Errorf("swarmconfig: strategy.weights must sum to 1, got %f", sum)
	}
	if c.Strategy.RingReplicas < 0 {
		return fmt.Errorf("swarmconfig: strategy.ringReplicas must be >= 0")
	}

	if c.Registry.LivenessTimeoutMs <= 0 {
		return fmt.Errorf("swarmconfig: registry.livenessTimeoutMs must be > 0")
	}

	return nil
}
