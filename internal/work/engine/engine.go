// Package engine holds the work engines that turn one job into assignments.
package engine

import (
	"math/bits"
	"sync"

	"github.com/bardlex/gominer/internal/job"
	"github.com/bardlex/gominer/internal/work"
)

// OneWork hands out a single assignment and is then exhausted.
type OneWork struct {
	mu   sync.Mutex
	work *work.Assignment
}

// NewOneWork wraps a.
func NewOneWork(a *work.Assignment) *OneWork {
	return &OneWork{work: a}
}

func (e *OneWork) Terminate() {
	e.mu.Lock()
	e.work = nil
	e.mu.Unlock()
}

func (e *OneWork) IsExhausted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.work == nil
}

func (e *OneWork) NextWork() work.LoopState[*work.Assignment] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.work == nil {
		return work.Exhausted[*work.Assignment]()
	}
	a := e.work
	e.work = nil
	return work.Break(a)
}

// VersionRolling derives assignments from one job by rolling the header
// version inside the job's version mask. Every assignment carries
// midstateCount midstates with distinct versions.
type VersionRolling struct {
	job           job.Bitcoin
	midstateCount uint64
	// limit is the number of versions the mask allows.
	limit uint64

	mu         sync.Mutex
	counter    uint64
	terminated bool
}

// NewVersionRolling creates an engine for j. midstateCount below one is treated as one.
func NewVersionRolling(j job.Bitcoin, midstateCount int) *VersionRolling {
	if midstateCount < 1 {
		midstateCount = 1
	}
	return &VersionRolling{
		job:           j,
		midstateCount: uint64(midstateCount),
		limit:         uint64(1) << bits.OnesCount32(j.VersionMask()),
	}
}

// RolledVersion returns the version for counter i: the bits of i are
// deposited into the set bits of mask and xored into base. Counter 0 is the
// base version.
func RolledVersion(base, mask uint32, i uint64) uint32 {
	var rolled uint32
	for m := mask; m != 0 && i != 0; m &= m - 1 {
		if i&1 != 0 {
			rolled |= m & -m
		}
		i >>= 1
	}
	return base ^ rolled
}

func (e *VersionRolling) exhaustedLocked() bool {
	return e.terminated || !e.job.IsValid() || e.counter+e.midstateCount > e.limit
}

func (e *VersionRolling) Terminate() {
	e.mu.Lock()
	e.terminated = true
	e.mu.Unlock()
}

func (e *VersionRolling) IsExhausted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exhaustedLocked()
}

func (e *VersionRolling) NextWork() work.LoopState[*work.Assignment] {
	e.mu.Lock()
	if e.exhaustedLocked() {
		e.terminated = true
		e.mu.Unlock()
		return work.Exhausted[*work.Assignment]()
	}
	first := e.counter
	e.counter += e.midstateCount
	last := e.exhaustedLocked()
	if last {
		e.terminated = true
	}
	e.mu.Unlock()

	// midstates are computed outside the lock so solvers hash in parallel
	base, mask := e.job.Version(), e.job.VersionMask()
	midstates := make([]work.Midstate, e.midstateCount)
	for i := range midstates {
		midstates[i] = work.NewMidstate(e.job, RolledVersion(base, mask, first+uint64(i)))
	}

	a := work.NewAssignment(e.job, midstates, e.job.Time())
	if last {
		return work.Break(a)
	}
	return work.Continue(a)
}

// Test hands out a fixed list of assignments in order. The last one is a Break.
type Test struct {
	mu    sync.Mutex
	works []*work.Assignment
	next  int
}

// NewTest creates an engine over works.
func NewTest(works []*work.Assignment) *Test {
	return &Test{works: works}
}

func (e *Test) Terminate() {
	e.mu.Lock()
	e.next = len(e.works)
	e.mu.Unlock()
}

func (e *Test) IsExhausted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next >= len(e.works)
}

func (e *Test) NextWork() work.LoopState[*work.Assignment] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.next >= len(e.works) {
		return work.Exhausted[*work.Assignment]()
	}
	a := e.works[e.next]
	e.next++
	if e.next == len(e.works) {
		return work.Break(a)
	}
	return work.Continue(a)
}

// Generator returns a work.EngineGenerator building VersionRolling engines.
func Generator(midstateCount int) work.EngineGenerator {
	return func(j job.Bitcoin) work.Engine {
		return NewVersionRolling(j, midstateCount)
	}
}

var (
	_ work.Engine = (*OneWork)(nil)
	_ work.Engine = (*VersionRolling)(nil)
	_ work.Engine = (*Test)(nil)
)
