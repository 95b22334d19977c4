package client

import (
	"context"

	"github.com/bardlex/gominer/internal/job"
	"github.com/bardlex/gominer/internal/queue"
	"github.com/bardlex/gominer/internal/work"
)

// JobSender turns the jobs of one client into engines on the client's channel.
type JobSender struct {
	engineSender *work.EngineSender
}

// NewJobSender wraps sender.
func NewJobSender(sender *work.EngineSender) *JobSender {
	return &JobSender{engineSender: sender}
}

// Send generates an engine for j and broadcasts it. Solvers only see it while
// the client is active.
func (s *JobSender) Send(j job.Bitcoin) {
	s.engineSender.BroadcastJob(j)
}

// SendEngine broadcasts a prepared engine instead of generating one from a job.
func (s *JobSender) SendEngine(e work.Engine) {
	s.engineSender.BroadcastEngine(e)
}

// Invalidate stops work on the current job, typically after a new block.
func (s *JobSender) Invalidate() {
	s.engineSender.Invalidate()
}

// SolutionReceiver reads the solutions routed to one client.
type SolutionReceiver struct {
	sink *queue.Unbounded[*work.Solution]
}

// NewSolutionReceiver wraps sink.
func NewSolutionReceiver(sink *queue.Unbounded[*work.Solution]) *SolutionReceiver {
	return &SolutionReceiver{sink: sink}
}

// Receive returns the next solution in routing order. It returns false once
// the client is removed and its sink drained, or ctx is done.
func (r *SolutionReceiver) Receive(ctx context.Context) (*work.Solution, bool) {
	return r.sink.Pop(ctx)
}

// JobSolver is the client side of the core: jobs go down, solutions come back.
type JobSolver struct {
	JobSender        *JobSender
	SolutionReceiver *SolutionReceiver
}

// NewJobSolver pairs an engine sender with a solution sink.
func NewJobSolver(sender *work.EngineSender, sink *queue.Unbounded[*work.Solution]) *JobSolver {
	return &JobSolver{
		JobSender:        NewJobSender(sender),
		SolutionReceiver: NewSolutionReceiver(sink),
	}
}
