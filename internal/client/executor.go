package client

import (
	"context"

	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/log"
)

// JobExecutor connects the client manager to the solvers' engine channel.
// The active client's engine sender is swapped onto the channel, so
// switching clients never re-subscribes a solver.
type JobExecutor struct {
	sender  *work.EngineSender
	manager *Manager
	logger  *log.Logger
}

// NewJobExecutor takes ownership of sender, the sending side of the channel
// every solver listens on.
func NewJobExecutor(sender *work.EngineSender, manager *Manager, logger *log.Logger) *JobExecutor {
	return &JobExecutor{
		sender:  sender,
		manager: manager,
		logger:  logger.WithComponent("job_executor"),
	}
}

// Manager returns the client manager.
func (e *JobExecutor) Manager() *Manager { return e.manager }

// Route delivers a solution to its client. It returns false when the client is gone.
func (e *JobExecutor) Route(s *work.Solution) bool {
	return e.manager.Route(s)
}

// Run activates the client manager, starts the registered clients and waits
// for ctx. On return every client is stopped and the channel is closed, so
// solvers stop the next time they ask for work.
func (e *JobExecutor) Run(ctx context.Context) error {
	e.manager.attach(e.sender)
	for _, h := range e.manager.start(ctx) {
		e.manager.startClient(ctx, h)
	}
	e.logger.Info("job executor running", "clients", e.manager.ClientCount())

	<-ctx.Done()

	e.manager.stopAll()
	e.manager.detach()
	e.sender.Close()
	e.logger.Info("job executor stopped")
	return nil
}
