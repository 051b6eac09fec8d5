// Package shutdown implements the prioritized shutdown coordinator named
// in spec §5 ("A shutdown coordinator holds a registry of named shutdown
// hooks with priorities; on shutdown it runs hooks in ascending priority,
// each with its own timeout; hook failures are logged but do not block
// later hooks.")
//
// Grounded on main.go's sequential teardown (gRPC GracefulStop, Temporal
// worker Stop, orchestratorService.Shutdown(), config manager stopping on
// context cancellation) generalized from a fixed hand-written sequence
// into an explicit, named, priority-ordered registry per §9's singleton-
// teardown redesign note.
package shutdown

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swarmforge/swarmcore/internal/clock"
	"github.com/swarmforge/swarmcore/internal/correlation"
	"github.com/swarmforge/swarmcore/internal/eventbus"
)

// Hook is one named, prioritized teardown unit. Lower Priority values run
// first. Run should return promptly once ctx is done.
type Hook struct {
	Name     string
	Priority int
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

type eventPublisher interface {
	Publish(eventbus.Event)
}

// Coordinator runs registered hooks one after another in ascending
// priority order on Shutdown, giving each its own timeout context. A
// hook that returns an error does not stop the ones after it; hooks run
// synchronously, so a hook that ignores its ctx delays every later hook.
type Coordinator struct {
	logger *zap.Logger
	bus    eventPublisher
	clk    clock.Clock

	mu    sync.Mutex
	hooks []Hook
	ran   bool
}

// New builds a Coordinator. bus may be nil.
func New(logger *zap.Logger, bus eventPublisher, clk clock.Clock) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Coordinator{logger: logger, bus: bus, clk: clk}
}

// Register adds a hook. Registering after Shutdown has already run is a
// no-op other than logging a warning, since there is nothing left to run
// it against.
func (c *Coordinator) Register(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ran {
		c.logger.Warn("shutdown hook registered after coordinator already ran", zap.String("hook", h.Name))
		return
	}
	c.hooks = append(c.hooks, h)
}

// Shutdown runs every registered hook once, in ascending priority order,
// each under its own timeout (falling back to parent if Timeout is zero).
// A hook's error is logged and published, never returned, so later hooks
// still run (spec §5: "hook failures are logged but do not block later
// hooks").
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return
	}
	c.ran = true
	hooks := make([]Hook, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.Unlock()

	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].Priority < hooks[j].Priority })

	for _, h := range hooks {
		hookCtx := ctx
		var cancel context.CancelFunc
		if h.Timeout > 0 {
			hookCtx, cancel = context.WithTimeout(ctx, h.Timeout)
		}
		err := h.Run(hookCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			c.logger.Error("shutdown hook failed", zap.String("hook", h.Name), zap.Error(err))
			c.publish(h.Name, err)
			continue
		}
		c.logger.Info("shutdown hook completed", zap.String("hook", h.Name))
		c.publish(h.Name, nil)
	}
}

func (c *Coordinator) publish(name string, err error) {
	if c.bus == nil {
		return
	}
	payload := map[string]any{"hook": name}
	if err != nil {
		payload["error"] = err.Error()
	}
	c.bus.Publish(eventbus.New(c.clk.Now(), eventbus.TopicShutdownHook, name, payload, correlation.New()))
}
