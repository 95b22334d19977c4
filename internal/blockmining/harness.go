package blockmining

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bardlex/gominer/internal/backend"
	"github.com/bardlex/gominer/internal/client"
	"github.com/bardlex/gominer/internal/hal"
	"github.com/bardlex/gominer/internal/hub"
	"github.com/bardlex/gominer/internal/job"
	"github.com/bardlex/gominer/internal/testutil"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/internal/work/engine"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
)

// Config controls a harness run.
type Config struct {
	// MidstateCount is the number of midstates per assignment.
	MidstateCount int
	// Blocks are the model blocks; nil means every test block.
	Blocks []testutil.TestBlock
	// Timeout bounds the wait for solutions.
	Timeout time.Duration
	// Backend is handed to the backend's Create and Init calls.
	Backend *hal.BackendConfig
}

// Report is the outcome of a run.
type Report struct {
	Problems int
	// Solutions counts every solution received, including ones that match
	// no problem.
	Solutions int
	Unmatched int
	Missing   []Problem
	Elapsed   time.Duration
}

// OK reports whether every problem was solved.
func (r Report) OK() bool { return len(r.Missing) == 0 }

// Problems returns one problem per block and midstate index.
func Problems(blocks []testutil.TestBlock, midstateCount int) []Problem {
	problems := make([]Problem, 0, len(blocks)*midstateCount)
	for m := range midstateCount {
		for _, b := range blocks {
			problems = append(problems, Problem{Block: b, TargetMidstate: m})
		}
	}
	return problems
}

// harnessClient is the job client the problems come from. It only needs its
// origin and job solver.
type harnessClient struct {
	origin *job.Origin
	solver *client.JobSolver
}

func (c *harnessClient) String() string { return "blockmining" }

func (c *harnessClient) Attach(origin *job.Origin, solver *client.JobSolver) {
	c.origin = origin
	c.solver = solver
}

func (c *harnessClient) Start(context.Context) error                 { return nil }
func (c *harnessClient) Stop()                                       {}
func (c *harnessClient) LastJob(context.Context) (job.Bitcoin, bool) { return nil, false }

// Run builds a core around b, sends it every problem and waits until all of
// them are solved or the timeout expires. An unsolved problem is reported in
// the Report, not as an error.
func Run(ctx context.Context, b hal.Backend, cfg Config, logger *log.Logger) (Report, error) {
	if cfg.MidstateCount < 1 {
		cfg.MidstateCount = 1
	}
	if cfg.Blocks == nil {
		cfg.Blocks = testutil.TestBlocks()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.Backend == nil {
		cfg.Backend = &hal.BackendConfig{}
	}
	cfg.Backend.MidstateCount = cfg.MidstateCount
	logger = logger.WithComponent("blockmining")

	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	registry := backend.NewRegistry()
	defer runtime.KeepAlive(registry)

	core := hub.NewCore(cfg.MidstateCount, registry, logger, nil)
	hc := &harnessClient{}
	if _, err := core.ClientManager().Add(hc); err != nil {
		return Report{}, err
	}
	if _, err := core.BuildBackend(ctx, b, cfg.Backend); err != nil {
		return Report{}, err
	}

	problems := NewRegistry()
	works := make([]*work.Assignment, 0, len(cfg.Blocks)*cfg.MidstateCount)
	for _, p := range Problems(cfg.Blocks, cfg.MidstateCount) {
		if !problems.AddProblem(p) {
			return Report{}, errors.New(errors.ErrorTypeValidation, "blockmining_run",
				"duplicate problem").WithContext("problem", p.String())
		}
		works = append(works, p.Work(hc.origin, cfg.MidstateCount))
	}
	logger.Info("problems generated", "problems", problems.Len(), "backend", b.Name())

	report := Report{Problems: problems.Len()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return core.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()

		timeout := time.NewTimer(cfg.Timeout)
		defer timeout.Stop()
		received := make(chan *work.Solution)
		go func() {
			defer close(received)
			for {
				s, ok := hc.solver.SolutionReceiver.Receive(gctx)
				if !ok {
					return
				}
				select {
				case received <- s:
				case <-gctx.Done():
					return
				}
			}
		}()

		hc.solver.JobSender.SendEngine(engine.NewTest(works))
		for !problems.Solved() {
			select {
			case s, ok := <-received:
				if !ok {
					return nil
				}
				report.Solutions++
				if !problems.AddSolution(s) {
					report.Unmatched++
					logger.Warn("solution matches no problem", "solution", s.String())
				}
			case <-timeout.C:
				logger.Error("timed out waiting for solutions")
				return nil
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	report.Missing = problems.Unsolved()
	report.Elapsed = time.Since(start)
	for _, p := range report.Missing {
		logger.Error("problem not solved", "problem", p.String())
	}
	logger.Info("block mining finished", "problems", report.Problems, "solutions", report.Solutions,
		"missing", len(report.Missing), "elapsed_ms", report.Elapsed.Milliseconds())
	return report, nil
}
