package hub

import (
	"context"

	"github.com/bardlex/gominer/internal/client"
	"github.com/bardlex/gominer/internal/queue"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/log"
)

// SolutionRouter drains the queue every solver pushes into and hands each
// solution to the client its job came from.
type SolutionRouter struct {
	executor  *client.JobExecutor
	solutions *queue.Unbounded[*work.Solution]
	metrics   *Metrics
	logger    *log.Logger
}

func newSolutionRouter(executor *client.JobExecutor, solutions *queue.Unbounded[*work.Solution], metrics *Metrics, logger *log.Logger) *SolutionRouter {
	return &SolutionRouter{
		executor:  executor,
		solutions: solutions,
		metrics:   metrics,
		logger:    logger.WithComponent("solution_router"),
	}
}

// Run routes solutions until the queue is closed and drained. Cancelling ctx
// does not stop the router; closing the queue does, so no queued solution is lost.
func (r *SolutionRouter) Run(ctx context.Context) error {
	drain := context.WithoutCancel(ctx)
	for {
		solution, ok := r.solutions.Pop(drain)
		if !ok {
			r.logger.Info("solution queue closed")
			return nil
		}
		r.route(solution)
	}
}

func (r *SolutionRouter) route(solution *work.Solution) {
	if r.executor.Route(solution) {
		r.metrics.solutionsRouted.WithLabelValues("delivered").Inc()
		// hashing is left to the client, which validates the result first
		r.logger.LogSolutionRouted(solution.Path().String(), solution.Nonce(), solution.MidstateIndex())
		return
	}

	// the client went away while hardware still held its work
	r.metrics.solutionsRouted.WithLabelValues("dropped").Inc()
	r.logger.Warn("solution has been discarded because client does not exist anymore",
		"nonce", solution.Nonce(), "path", solution.Path().String())
}
