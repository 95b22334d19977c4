package cpuminer

import (
	"context"
	"time"

	"github.com/bardlex/gominer/internal/bitcoin"
	"github.com/bardlex/gominer/internal/node"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/log"
)

// checkInterval is how many nonces are hashed between checks for a stale job
// or a cancelled context.
const checkInterval = 1 << 16

// Solver is one CPU chain.
type Solver struct {
	name     string
	settings Settings
	stats    node.Stats
	logger   *log.Logger
}

func newSolver(name string, settings Settings, logger *log.Logger) *Solver {
	return &Solver{
		name:     name,
		settings: settings,
		logger:   logger.WithFields("solver", name),
	}
}

func (s *Solver) String() string      { return s.name }
func (s *Solver) Stats() *node.Stats { return &s.stats }

// Run solves assignments until the engine channel closes or ctx is done.
func (s *Solver) Run(ctx context.Context, generator *work.Generator, solutions *work.SolutionSender) {
	s.logger.Debug("solver running", "path", generator.Path().String())
	for {
		assignment, ok := generator.Generate(ctx)
		if !ok {
			s.logger.Debug("solver stopped")
			return
		}
		if !s.Solve(ctx, assignment, solutions) {
			return
		}
	}
}

// Solve scans the nonce range of every midstate of a. It returns false when
// the solution queue is closed.
func (s *Solver) Solve(ctx context.Context, a *work.Assignment, solutions *work.SolutionSender) bool {
	target := s.backendTarget(a)

	for i, midstate := range a.Midstates {
		hasher := bitcoin.NewMidstateHasher(midstate.State)
		tail := a.HeaderTail(0)

		var pending uint64
		for n := range s.settings.NonceRange {
			if pending == checkInterval {
				s.stats.Hashes.Add(pending)
				pending = 0
				if ctx.Err() != nil || !a.Job().IsValid() {
					return true
				}
			}

			nonce := uint32(n)
			tail.SetNonce(nonce)
			hash := hasher.Hash(&tail)
			pending++

			if !target.MeetsTarget(&hash) {
				continue
			}
			s.stats.ValidSolutions.Add(1)
			solution := work.NewSolution(a, &result{
				nonce:    nonce,
				midstate: i,
				target:   target,
			}, time.Time{})
			if !solutions.Send(solution) {
				s.stats.Hashes.Add(pending)
				return false
			}
		}
		s.stats.Hashes.Add(pending)
	}
	return true
}

func (s *Solver) backendTarget(a *work.Assignment) bitcoin.Target {
	jobTarget := a.Target()
	if s.settings.Target == (bitcoin.Target{}) || s.settings.Target.Less(jobTarget) {
		return jobTarget
	}
	return s.settings.Target
}

// result is the work.RawResult of a CPU hit.
type result struct {
	nonce    uint32
	midstate int
	target   bitcoin.Target
}

func (r *result) Nonce() uint32          { return r.nonce }
func (r *result) MidstateIndex() int     { return r.midstate }
func (r *result) SolutionIndex() int     { return 0 }
func (r *result) Target() bitcoin.Target { return r.target }

var _ work.RawResult = (*result)(nil)
