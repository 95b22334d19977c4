// Package cpuminer is a software mining backend. It resumes SHA-256 from the
// midstates of every assignment and scans the nonce space on the CPU, which
// makes the whole pipeline runnable without hardware.
package cpuminer

import (
	"context"
	"fmt"

	"github.com/bardlex/gominer/internal/bitcoin"
	"github.com/bardlex/gominer/internal/hal"
	"github.com/bardlex/gominer/internal/node"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
)

// Settings configure the CPU backend.
type Settings struct {
	// Chains is the number of solver goroutines. More than one builds a hub.
	Chains int
	// NonceRange is how many nonces are scanned per midstate, at most 2^32.
	NonceRange uint64
	// Target is the backend target. Solutions are reported when they meet it
	// or the job target, whichever is easier. Zero means the job target.
	Target bitcoin.Target
}

// DefaultSettings scans the full nonce space with one chain.
func DefaultSettings() Settings {
	return Settings{Chains: 1, NonceRange: 1 << 32}
}

// Backend builds the CPU hierarchy.
type Backend struct {
	settings Settings
	logger   *log.Logger
}

// New creates the backend. Zero fields of settings take their defaults.
func New(settings Settings, logger *log.Logger) *Backend {
	defaults := DefaultSettings()
	if settings.Chains <= 0 {
		settings.Chains = defaults.Chains
	}
	if settings.NonceRange == 0 || settings.NonceRange > defaults.NonceRange {
		settings.NonceRange = defaults.NonceRange
	}
	return &Backend{
		settings: settings,
		logger:   logger.WithComponent("cpuminer"),
	}
}

// Name implements hal.Backend.
func (b *Backend) Name() string { return "cpu" }

// Create implements hal.Backend.
func (b *Backend) Create(*hal.BackendConfig) node.WorkSolverType {
	if b.settings.Chains > 1 {
		return node.Hub(func() node.WorkHub {
			return &Hub{name: b.Name()}
		})
	}
	return node.Solver(func() node.WorkSolver {
		return newSolver(b.Name(), b.settings, b.logger)
	})
}

// InitWorkHub registers one solver per chain and starts them.
func (b *Backend) InitWorkHub(ctx context.Context, cfg *hal.BackendConfig, hub node.WorkHub, builder *work.SolverBuilder) (hal.FrontendConfig, error) {
	solvers := make([]*Solver, 0, b.settings.Chains)
	for i := range b.settings.Chains {
		var (
			generator *work.Generator
			sender    *work.SolutionSender
		)
		registered, err := builder.CreateWorkSolver(ctx, func(g *work.Generator, s *work.SolutionSender) node.WorkSolver {
			generator, sender = g, s
			return newSolver(fmt.Sprintf("chain-%d", i), b.settings, b.logger)
		})
		if err != nil {
			return hal.FrontendConfig{}, errors.Wrap(err, errors.ErrorTypeBackend, "init_work_hub",
				"failed to register CPU chain").
				WithContext("hub", hub.String()).
				WithContext("chain", i)
		}

		solver := registered.(*Solver)
		solvers = append(solvers, solver)
		go solver.Run(ctx, generator, sender)
	}

	b.logger.Info("CPU hub started", "hub", hub.String(), "chains", len(solvers),
		"midstates", cfg.MidstateCount, "nonce_range", b.settings.NonceRange)
	return b.frontend(hub, solvers), nil
}

// InitWorkSolver starts the single solver.
func (b *Backend) InitWorkSolver(ctx context.Context, cfg *hal.BackendConfig, solver node.WorkSolver, generator *work.Generator, solutions *work.SolutionSender) (hal.FrontendConfig, error) {
	s, ok := solver.(*Solver)
	if !ok {
		return hal.FrontendConfig{}, errors.Newf(errors.ErrorTypeBackend, "init_work_solver",
			"unexpected solver type %T", solver)
	}
	go s.Run(ctx, generator, solutions)

	b.logger.Info("CPU solver started", "solver", s.String(),
		"midstates", cfg.MidstateCount, "nonce_range", b.settings.NonceRange)
	return b.frontend(s, []*Solver{s}), nil
}

// Status is what the "status" command reports.
type Status struct {
	Node           string `json:"node"`
	Chains         int    `json:"chains"`
	Hashes         uint64 `json:"hashes"`
	ValidSolutions uint64 `json:"valid_solutions"`
	HardwareErrors uint64 `json:"hardware_errors"`
}

func (b *Backend) frontend(top node.Info, solvers []*Solver) hal.FrontendConfig {
	return hal.FrontendConfig{
		ClientManagerEnabled: true,
		Commands: map[string]func(ctx context.Context) (any, error){
			"status": func(context.Context) (any, error) {
				status := Status{Node: top.String(), Chains: len(solvers)}
				for _, s := range solvers {
					status.Hashes += s.stats.Hashes.Load()
					status.ValidSolutions += s.stats.ValidSolutions.Load()
					status.HardwareErrors += s.stats.HardwareErrors.Load()
				}
				return status, nil
			},
		},
	}
}

// Hub groups the CPU chains.
type Hub struct {
	name  string
	stats node.Stats
}

func (h *Hub) String() string      { return h.name }
func (h *Hub) Stats() *node.Stats { return &h.stats }

var (
	_ hal.Backend     = (*Backend)(nil)
	_ node.WorkHub    = (*Hub)(nil)
	_ node.WorkSolver = (*Solver)(nil)
)
