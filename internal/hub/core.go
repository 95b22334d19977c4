// Package hub composes the mining core: the backend hierarchy, the client
// side job executor and the solution router.
package hub

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bardlex/gominer/internal/backend"
	"github.com/bardlex/gominer/internal/client"
	"github.com/bardlex/gominer/internal/hal"
	"github.com/bardlex/gominer/internal/node"
	"github.com/bardlex/gominer/internal/queue"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
)

// exhaustedHandler reports engines that ran dry before a new job arrived.
type exhaustedHandler struct {
	logger  *log.Logger
	metrics *Metrics
}

func (h exhaustedHandler) HandleExhausted(work.Engine) {
	h.metrics.enginesExhausted.Inc()
	h.logger.Warn("no more work available for current job")
}

// Core owns everything between the clients and the hardware. It is built
// once, gets its backends through BuildBackend and then runs to completion.
type Core struct {
	logger  *log.Logger
	metrics *Metrics

	// registry is owned by the caller of NewCore; a dead reference means shutdown
	registry backend.WeakRegistry

	manager        *client.Manager
	executor       *client.JobExecutor
	engineReceiver *work.EngineReceiver
	solutions      *queue.Unbounded[*work.Solution]
	router         *SolutionRouter

	backendInfo atomic.Pointer[hal.BackendInfo]
	running     atomic.Bool
}

// NewCore creates a core whose assignments carry midstateCount midstates.
// The caller keeps registry alive for as long as the hierarchy is needed.
// A nil metrics gets a fresh set of collectors.
func NewCore(midstateCount int, registry *backend.Registry, logger *log.Logger, metrics *Metrics) *Core {
	if metrics == nil {
		metrics = NewMetrics()
	}
	logger = logger.WithComponent("core")

	engineSender, engineReceiver := work.NewEngineChannel(exhaustedHandler{logger: logger, metrics: metrics})
	solutions := queue.NewUnbounded[*work.Solution]()

	manager := client.NewManager(midstateCount, logger)
	executor := client.NewJobExecutor(engineSender, manager, logger)

	c := &Core{
		logger:         logger,
		metrics:        metrics,
		registry:       registry.Weak(),
		manager:        manager,
		executor:       executor,
		engineReceiver: engineReceiver,
		solutions:      solutions,
		router:         newSolutionRouter(executor, solutions, metrics, logger),
	}
	metrics.observeHierarchy(c.registry)
	return c
}

// Metrics returns the core's collectors.
func (c *Core) Metrics() *Metrics { return c.metrics }

// ClientManager returns the registry of job suppliers.
func (c *Core) ClientManager() *client.Manager { return c.manager }

// BackendInfo returns the hardware description of the last backend built, if any.
func (c *Core) BackendInfo() (*hal.BackendInfo, bool) {
	info := c.backendInfo.Load()
	return info, info != nil
}

// SolutionSender returns a sender into the router's queue.
func (c *Core) SolutionSender() *work.SolutionSender {
	return work.NewSolutionSender(c.solutions)
}

// EngineReceiver returns a new subscriber of the solvers' engine channel.
func (c *Core) EngineReceiver() *work.EngineReceiver {
	return c.engineReceiver.Clone()
}

// BuildBackend asks b how it wants to be built, registers the resulting node
// and then runs the matching Init method once. The frontend settings it
// returns come from that Init call.
func (c *Core) BuildBackend(ctx context.Context, b hal.Backend, cfg *hal.BackendConfig) (hal.FrontendConfig, error) {
	registry, ok := c.registry.Upgrade()
	if !ok {
		panic("BUG: missing backend registry")
	}

	if cfg == nil {
		cfg = &hal.BackendConfig{}
	}
	if cfg.MidstateCount == 0 {
		cfg.MidstateCount = c.manager.MidstateCount()
	}
	cfg.ClientManager = c.manager
	if cfg.Info != nil {
		c.backendInfo.Store(cfg.Info)
	}

	builder := work.NewSolverBuilder(registry, c.engineReceiver.Clone(), c.SolutionSender())
	logger := c.logger.WithFields("backend", b.Name())

	var initialize func(ctx context.Context) (hal.FrontendConfig, error)

	nodeType := b.Create(cfg)
	switch {
	case nodeType.IsHub():
		hub, children, err := builder.CreateWorkHub(ctx, nodeType.CreateHub)
		if err != nil {
			return hal.FrontendConfig{}, errors.Wrap(err, errors.ErrorTypeBackend, "build_backend",
				"failed to register work hub").WithContext("backend", b.Name())
		}
		logger.Info("work hub registered", "hub", hub.String())
		initialize = func(ctx context.Context) (hal.FrontendConfig, error) {
			return b.InitWorkHub(ctx, cfg, hub, children)
		}

	case nodeType.IsSolver():
		var (
			generator *work.Generator
			sender    *work.SolutionSender
		)
		solver, err := builder.CreateWorkSolver(ctx, func(g *work.Generator, s *work.SolutionSender) node.WorkSolver {
			generator, sender = g, s
			return nodeType.CreateSolver()
		})
		if err != nil {
			return hal.FrontendConfig{}, errors.Wrap(err, errors.ErrorTypeBackend, "build_backend",
				"failed to register work solver").WithContext("backend", b.Name())
		}
		logger.Info("work solver registered", "solver", solver.String())
		initialize = func(ctx context.Context) (hal.FrontendConfig, error) {
			return b.InitWorkSolver(ctx, cfg, solver, generator, sender)
		}

	default:
		panic("BUG: backend returned an empty WorkSolverType")
	}

	frontend, err := c.initBackend(ctx, b.Name(), initialize)
	c.metrics.setHierarchy(ctx, c.registry)
	if err != nil {
		return hal.FrontendConfig{}, errors.Wrap(err, errors.ErrorTypeBackend, "build_backend",
			"backend initialization failed").WithContext("backend", b.Name())
	}
	return frontend, nil
}

// initBackend runs initialize on its own goroutine so a slow bring-up can be
// abandoned through ctx.
func (c *Core) initBackend(ctx context.Context, name string, initialize func(context.Context) (hal.FrontendConfig, error)) (hal.FrontendConfig, error) {
	type result struct {
		frontend hal.FrontendConfig
		err      error
	}

	start := time.Now()
	done := make(chan result, 1)
	go func() {
		frontend, err := initialize(ctx)
		done <- result{frontend, err}
	}()

	select {
	case r := <-done:
		elapsed := time.Since(start)
		c.metrics.backendInit.WithLabelValues(name).Observe(elapsed.Seconds())
		c.logger.WithFields("backend", name).LogDuration("backend_init", elapsed)
		return r.frontend, r.err
	case <-ctx.Done():
		return hal.FrontendConfig{}, ctx.Err()
	}
}

// RootHub returns the root of the hierarchy, if the backend built a hub.
func (c *Core) RootHub(ctx context.Context) (node.WorkHub, bool) {
	root, ok := c.registry.Root(ctx)
	if !ok {
		c.warnIfRegistryGone()
	}
	return root, ok
}

// WorkHubs returns a snapshot of all hubs, empty during shutdown.
func (c *Core) WorkHubs(ctx context.Context) []node.WorkHub {
	c.warnIfRegistryGone()
	return c.registry.Hubs(ctx)
}

// WorkSolvers returns a snapshot of all solvers, empty during shutdown.
func (c *Core) WorkSolvers(ctx context.Context) []node.WorkSolver {
	c.warnIfRegistryGone()
	return c.registry.Solvers(ctx)
}

func (c *Core) warnIfRegistryGone() {
	if _, ok := c.registry.Upgrade(); !ok {
		c.logger.Warn("backend registry is gone")
	}
}

// Run starts the solution router and the job executor and blocks until ctx
// is done and every queued solution has been routed. It can be called once.
func (c *Core) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New(errors.ErrorTypeInternal, "core_run", "core is already running")
	}
	c.logger.Info("core running")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.router.Run(gctx)
	})
	g.Go(func() error {
		// solvers push into a closed queue in vain, the router drains what is left
		defer c.solutions.Close()
		return c.executor.Run(gctx)
	})

	err := g.Wait()
	c.logger.Info("core stopped")
	return err
}
