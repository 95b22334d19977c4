package work

import (
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/gominer/internal/bitcoin"
	"github.com/bardlex/gominer/internal/job"
	"github.com/bardlex/gominer/internal/node"
)

// RawResult is a candidate nonce reported by hardware.
type RawResult interface {
	Nonce() uint32
	// MidstateIndex selects the midstate of the assignment the nonce solves.
	MidstateIndex() int
	// SolutionIndex distinguishes several results for the same work.
	SolutionIndex() int
	// Target is the backend target the hardware was searching for. It is used
	// to detect hardware errors.
	Target() bitcoin.Target
}

// blockHash is swapped in tests to count hash computations.
var blockHash = func(h *wire.BlockHeader) chainhash.Hash { return h.BlockHash() }

// Solution pairs a raw result with the work it answers. Derived values are
// computed on first use and then reused; they never change for one instance.
type Solution struct {
	timestamp time.Time
	work      *Assignment
	result    RawResult

	hash          func() chainhash.Hash
	jobTarget     func() bitcoin.Target
	backendTarget func() bitcoin.Target
}

// NewSolution creates a solution received at timestamp. A zero timestamp means now.
func NewSolution(work *Assignment, result RawResult, timestamp time.Time) *Solution {
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	s := &Solution{
		timestamp: timestamp,
		work:      work,
		result:    result,
	}
	s.hash = sync.OnceValue(func() chainhash.Hash {
		return blockHash(s.Header())
	})
	s.jobTarget = sync.OnceValue(func() bitcoin.Target {
		return s.work.job.Target()
	})
	s.backendTarget = sync.OnceValue(func() bitcoin.Target {
		return s.result.Target()
	})
	return s
}

// Timestamp is when the result was fetched from hardware.
func (s *Solution) Timestamp() time.Time { return s.timestamp }

// Work returns the assignment the solution answers.
func (s *Solution) Work() *Assignment { return s.work }

// Result returns the raw hardware result.
func (s *Solution) Result() RawResult { return s.result }

// Job returns the original job. Callers type-assert to the concrete job.
func (s *Solution) Job() job.Bitcoin { return s.work.job }

// Origin returns the weak reference to the client that produced the job.
func (s *Solution) Origin() *job.Origin { return s.work.job.Origin() }

func (s *Solution) Nonce() uint32 { return s.result.Nonce() }

func (s *Solution) Time() uint32 { return s.work.NTime }

func (s *Solution) MidstateIndex() int { return s.result.MidstateIndex() }

// HasValidMidstate reports whether the result points at a midstate of its
// assignment. Hardware can report any index.
func (s *Solution) HasValidMidstate() bool {
	idx := s.MidstateIndex()
	return idx >= 0 && idx < len(s.work.Midstates)
}

// Version returns the header version of the midstate the nonce solves. An
// index outside the assignment falls back to the job version; such a result
// is a hardware error and its hash is meaningless.
func (s *Solution) Version() uint32 {
	if !s.HasValidMidstate() {
		return s.work.job.Version()
	}
	return s.work.Midstates[s.MidstateIndex()].Version
}

// Solver returns the solver that produced the solution, the last node of
// its assignment path.
func (s *Solution) Solver() (node.WorkSolver, bool) {
	if len(s.work.Path) == 0 {
		return nil, false
	}
	solver, ok := s.work.Path[len(s.work.Path)-1].(node.WorkSolver)
	return solver, ok
}

// NetworkTarget is the target encoded by the job's bits.
func (s *Solution) NetworkTarget() bitcoin.Target {
	return bitcoin.TargetFromCompact(s.work.job.Bits())
}

// JobTarget is the share target of the job, fixed at first use.
func (s *Solution) JobTarget() bitcoin.Target { return s.jobTarget() }

// BackendTarget is the target the hardware searched for, fixed at first use.
func (s *Solution) BackendTarget() bitcoin.Target { return s.backendTarget() }

// Hash returns the double SHA-256 of the solved header.
func (s *Solution) Hash() chainhash.Hash { return s.hash() }

// Header rebuilds the full block header of the solution.
func (s *Solution) Header() *wire.BlockHeader {
	j := s.work.job
	return bitcoin.HeaderFromParts(s.Version(), j.PreviousHash(), j.MerkleRoot(),
		s.Time(), j.Bits(), s.Nonce())
}

// HasValidJob reports whether the job is still worth submitting.
func (s *Solution) HasValidJob() bool { return s.work.job.IsValid() }

// Path is the full route of the solution from the job origin down to the
// solver. The origin segment is omitted once the client is gone.
func (s *Solution) Path() node.Path {
	client, ok := s.Origin().Upgrade()
	if !ok {
		return s.work.Path
	}
	path := make(node.Path, 0, len(s.work.Path)+1)
	path = append(path, client)
	return append(path, s.work.Path...)
}

func (s *Solution) String() string {
	hash := s.Hash()
	return fmt.Sprintf("%s (nonce %08x, midstate %d)", hash.String(), s.Nonce(), s.MidstateIndex())
}
