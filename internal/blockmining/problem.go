// Package blockmining checks that a backend still mines. Known blocks are
// turned into problems whose solution sits in one particular midstate, the
// problems are pushed through a complete core and every one of them must come
// back solved.
package blockmining

import (
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gominer/internal/bitcoin"
	"github.com/bardlex/gominer/internal/job"
	"github.com/bardlex/gominer/internal/testutil"
	"github.com/bardlex/gominer/internal/work"
)

// Problem is work modelled on a known block whose solution is in midstate
// TargetMidstate.
type Problem struct {
	Block          testutil.TestBlock
	TargetMidstate int
}

func (p Problem) String() string {
	return fmt.Sprintf("%s (nonce %08x, midstate %d)", p.Block.Name, p.Block.Nonce, p.TargetMidstate)
}

// Key identifies the solution of the problem.
func (p Problem) Key() SolutionKey {
	return SolutionKey{Hash: p.Block.Hash, Midstate: p.TargetMidstate}
}

// Work builds the assignment. Midstate i carries version v^i^target, so only
// the target midstate has the block's real version. The job target is the
// block hash itself, which keeps unrelated nonces from being reported.
func (p Problem) Work(origin *job.Origin, midstateCount int) *work.Assignment {
	b := p.Block.WithOrigin(origin).WithTarget(bitcoin.TargetFromBig(blockchain.HashToBig(&p.Block.Hash)))

	midstates := make([]work.Midstate, midstateCount)
	for i := range midstates {
		version := b.Version ^ uint32(i) ^ uint32(p.TargetMidstate)
		midstates[i] = work.Midstate{
			Version: version,
			State:   bitcoin.ComputeMidstate(version, &b.PrevHash, &b.MerkleRoot),
		}
	}
	return work.NewAssignment(b.Job(), midstates, b.Time)
}

// SolutionKey pairs problems with solutions.
type SolutionKey struct {
	Hash     chainhash.Hash
	Midstate int
}

type problemState struct {
	problem Problem
	solved  bool
}

// Registry tracks which problems have been solved. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	problems map[SolutionKey]*problemState
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{problems: make(map[SolutionKey]*problemState)}
}

// AddProblem registers p. It returns false if an identical problem exists;
// re-adding never resets a solved problem.
func (r *Registry) AddProblem(p Problem) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := p.Key()
	if _, ok := r.problems[key]; ok {
		return false
	}
	r.problems[key] = &problemState{problem: p}
	return true
}

// AddSolution marks the problem solved by s. It returns false when s solves
// no registered problem.
func (r *Registry) AddSolution(s *work.Solution) bool {
	return r.solve(SolutionKey{Hash: s.Hash(), Midstate: s.MidstateIndex()})
}

func (r *Registry) solve(key SolutionKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.problems[key]
	if !ok {
		return false
	}
	state.solved = true
	return true
}

// Solved reports whether every problem has a solution.
func (r *Registry) Solved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, state := range r.problems {
		if !state.solved {
			return false
		}
	}
	return true
}

// Len returns the number of problems.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.problems)
}

// Unsolved returns the problems still open, ordered by block name and midstate.
func (r *Registry) Unsolved() []Problem {
	r.mu.Lock()
	var out []Problem
	for _, state := range r.problems {
		if !state.solved {
			out = append(out, state.problem)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Block.Name != out[j].Block.Name {
			return out[i].Block.Name < out[j].Block.Name
		}
		return out[i].TargetMidstate < out[j].TargetMidstate
	})
	return out
}
