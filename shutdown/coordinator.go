package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/mcpbridge/logging"
)

// Coordinator runs registered handlers phase by phase on shutdown.
type Coordinator struct {
	config Config
	obs    logging.Observer

	mu       sync.Mutex
	handlers []registration

	started     atomic.Bool
	shutdownErr error
	done        chan struct{}
	result      *Result
	signalChan  chan os.Signal
}

// NewCoordinator creates a new shutdown coordinator. obs may be nil.
func NewCoordinator(config Config, obs logging.Observer) *Coordinator {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.DefaultPhase == 0 {
		config.DefaultPhase = DefaultConfig().DefaultPhase
	}

	return &Coordinator{
		config:     config,
		obs:        logging.OrDiscard(obs),
		done:       make(chan struct{}),
		signalChan: make(chan os.Signal, 1),
	}
}

// Register adds a handler in the default phase.
func (c *Coordinator) Register(name string, handler Handler) {
	c.RegisterWithPhase(name, handler, c.config.DefaultPhase)
}

// RegisterWithPhase adds a handler with a specific phase. Handlers in the
// same phase run concurrently.
func (c *Coordinator) RegisterWithPhase(name string, handler Handler, phase int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, handler: handler, phase: phase})
}

// RegisterFunc registers fn in the given phase.
func (c *Coordinator) RegisterFunc(name string, phase int, fn func(ctx context.Context) error) {
	c.RegisterWithPhase(name, HandlerFunc(fn), phase)
}

// Shutdown runs all handlers. Only the first call runs them; later calls
// return ErrAlreadyShutdown while it is in progress and its error after.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		select {
		case <-c.done:
			return c.shutdownErr
		default:
			return ErrAlreadyShutdown
		}
	}

	c.shutdownErr = c.run(ctx)
	close(c.done)
	return c.shutdownErr
}

// ShutdownWithTimeout runs Shutdown bounded by timeout, or the configured
// timeout when zero.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout == 0 {
		timeout = c.config.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals starts shutdown on SIGTERM or SIGINT.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signalChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-c.signalChan:
			c.obs.Info("shutdown_signal", logging.Fields{"signal": sig.String()})
			_ = c.ShutdownWithTimeout(0)
		case <-c.done:
		}
		signal.Stop(c.signalChan)
	}()
}

// Trigger simulates a termination signal.
func (c *Coordinator) Trigger() {
	select {
	case c.signalChan <- syscall.SIGTERM:
	default:
	}
}

// Done returns a channel that is closed when shutdown is complete.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown error once Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.shutdownErr
	default:
		return nil
	}
}

// Result returns the detailed shutdown result once Done is closed.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	start := time.Now()

	c.mu.Lock()
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	result := &Result{Results: make([]HandlerResult, 0, len(handlers))}
	finish := func(err error) error {
		result.Err = err
		result.TotalDuration = time.Since(start)
		c.result = result
		c.obs.Info("shutdown_complete", logging.Fields{
			"duration_ms": result.TotalDuration.Milliseconds(),
			"failed":      result.FailedHandlers(),
		})
		return err
	}

	var overallErr error
	for _, group := range groupByPhase(handlers) {
		if ctx.Err() != nil {
			return finish(ErrTimeout)
		}

		phaseResults := c.runPhase(ctx, group)
		result.Results = append(result.Results, phaseResults...)

		for _, hr := range phaseResults {
			if hr.Err == nil {
				continue
			}
			overallErr = ErrHandlerFailed
			if !c.config.ContinueOnError {
				return finish(overallErr)
			}
		}
	}
	return finish(overallErr)
}

// runPhase runs all handlers in a phase concurrently. Handler errors are
// recorded, not propagated, so one failure does not cancel its siblings.
func (c *Coordinator) runPhase(ctx context.Context, handlers []registration) []HandlerResult {
	results := make([]HandlerResult, len(handlers))
	var g errgroup.Group

	for i, reg := range handlers {
		g.Go(func() error {
			start := time.Now()
			err := reg.handler.OnShutdown(ctx)
			results[i] = HandlerResult{
				Name:     reg.name,
				Phase:    reg.phase,
				Duration: time.Since(start),
				Err:      err,
			}

			fields := logging.Fields{"handler": reg.name, "phase": reg.phase, "duration_ms": results[i].Duration.Milliseconds()}
			if err != nil {
				fields["error"] = err.Error()
				c.obs.Warn("shutdown_handler_failed", fields)
			} else {
				c.obs.Debug("shutdown_handler_done", fields)
			}
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// groupByPhase splits handlers sorted by phase into per-phase groups.
func groupByPhase(handlers []registration) [][]registration {
	var groups [][]registration
	for i, h := range handlers {
		if i == 0 || h.phase != handlers[i-1].phase {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], h)
	}
	return groups
}
