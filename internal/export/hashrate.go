package export

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/bardlex/gominer/internal/node"
	"github.com/bardlex/gominer/pkg/log"
)

// HashrateSample is the throughput of one solver over one interval.
type HashrateSample struct {
	Solver       string
	Hashes       uint64
	HashesPerSec float64
	At           time.Time
}

// SolverSource lists the solvers to sample, usually a *hub.Core.
type SolverSource interface {
	WorkSolvers(ctx context.Context) []node.WorkSolver
}

// HashrateReporter periodically turns the hash counters of all solvers into
// hashrate samples.
type HashrateReporter struct {
	source   SolverSource
	recorder *Recorder
	interval time.Duration
	logger   *log.Logger
	clock    clockwork.Clock

	last   map[string]uint64
	lastAt time.Time
}

// NewHashrateReporter creates a reporter sampling every interval.
func NewHashrateReporter(source SolverSource, recorder *Recorder, interval time.Duration, logger *log.Logger) *HashrateReporter {
	return &HashrateReporter{
		source:   source,
		recorder: recorder,
		interval: interval,
		logger:   logger.WithComponent("hashrate"),
		clock:    clockwork.NewRealClock(),
		last:     make(map[string]uint64),
	}
}

// Run samples until ctx is done.
func (h *HashrateReporter) Run(ctx context.Context) error {
	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	h.Sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			for _, sample := range h.Sample(ctx) {
				h.logger.LogHashrate(sample.Solver, sample.Hashes, h.interval)
				h.recorder.RecordHashrate(ctx, sample)
			}
		}
	}
}

// Sample reads the counters and returns the rates since the previous call.
// The first call only sets the baseline.
func (h *HashrateReporter) Sample(ctx context.Context) []HashrateSample {
	now := h.clock.Now()
	elapsed := now.Sub(h.lastAt)
	first := h.lastAt.IsZero()
	h.lastAt = now

	var samples []HashrateSample
	for _, solver := range h.source.WorkSolvers(ctx) {
		name := solver.String()
		total := solver.Stats().Hashes.Load()
		prev, seen := h.last[name]
		h.last[name] = total

		if first || !seen || elapsed <= 0 || total < prev {
			continue
		}
		delta := total - prev
		samples = append(samples, HashrateSample{
			Solver:       name,
			Hashes:       delta,
			HashesPerSec: float64(delta) / elapsed.Seconds(),
			At:           now,
		})
	}
	return samples
}
