package work

import (
	"context"

	"github.com/bardlex/gominer/internal/backend"
	"github.com/bardlex/gominer/internal/node"
	"github.com/bardlex/gominer/internal/queue"
)

// Generator pulls assignments for one solver out of the current engine.
type Generator struct {
	receiver *EngineReceiver
	path     node.Path
}

// NewGenerator creates a generator whose assignments are routed along path.
func NewGenerator(receiver *EngineReceiver, path node.Path) *Generator {
	return &Generator{receiver: receiver, path: path}
}

// Path returns the route stamped on every generated assignment.
func (g *Generator) Path() node.Path { return g.path }

// Generate returns the next assignment. The current engine is looked up on
// every call, so a newly broadcast job takes over immediately. It returns
// false once the channel is closed or ctx is done.
func (g *Generator) Generate(ctx context.Context) (*Assignment, bool) {
	for {
		engine, ok := g.receiver.GetEngine(ctx)
		if !ok {
			return nil, false
		}

		state := engine.NextWork()
		switch state.Kind {
		case LoopExhausted:
			// another solver took the last assignment first
			continue
		case LoopBreak:
			g.receiver.HandleExhausted(engine)
		}
		return state.Value().WithPath(g.path), true
	}
}

// SolutionSender pushes solutions into the queue drained by the router.
// Send never blocks.
type SolutionSender struct {
	queue *queue.Unbounded[*Solution]
}

// NewSolutionSender wraps q.
func NewSolutionSender(q *queue.Unbounded[*Solution]) *SolutionSender {
	return &SolutionSender{queue: q}
}

// Send queues s. It returns false once the queue is closed.
func (s *SolutionSender) Send(solution *Solution) bool {
	return s.queue.Push(solution)
}

// SolverBuilder registers the nodes of one subtree of the backend hierarchy
// and hands every solver its generator and solution sender.
type SolverBuilder struct {
	registry  *backend.Registry
	receiver  *EngineReceiver
	solutions *SolutionSender
	path      node.Path
}

// NewSolverBuilder creates a builder for the top of the hierarchy.
func NewSolverBuilder(registry *backend.Registry, receiver *EngineReceiver, solutions *SolutionSender) *SolverBuilder {
	return &SolverBuilder{
		registry:  registry,
		receiver:  receiver,
		solutions: solutions,
	}
}

// Path returns the route from the root to the nodes this builder creates.
func (b *SolverBuilder) Path() node.Path { return b.path }

// CreateWorkHub creates and registers a hub, and returns it together with a
// builder for its children. The first hub created at the top becomes the root.
func (b *SolverBuilder) CreateWorkHub(ctx context.Context, create func() node.WorkHub) (node.WorkHub, *SolverBuilder, error) {
	hub := create()
	if err := b.registry.RegisterHub(ctx, hub); err != nil {
		return nil, nil, err
	}
	if len(b.path) == 0 {
		if _, err := b.registry.SetRoot(ctx, hub); err != nil {
			return nil, nil, err
		}
	}

	child := &SolverBuilder{
		registry:  b.registry,
		receiver:  b.receiver.Clone(),
		solutions: b.solutions,
		path:      b.path.Append(hub),
	}
	return hub, child, nil
}

// CreateWorkSolver creates and registers a solver. create receives the
// solver's generator and solution sender; the generator's path is completed
// with the solver itself once create returns, so it must not be used inside
// create.
func (b *SolverBuilder) CreateWorkSolver(ctx context.Context, create func(*Generator, *SolutionSender) node.WorkSolver) (node.WorkSolver, error) {
	generator := NewGenerator(b.receiver.Clone(), b.path)
	solver := create(generator, b.solutions)
	generator.path = b.path.Append(solver)

	if err := b.registry.RegisterSolver(ctx, solver); err != nil {
		return nil, err
	}
	return solver, nil
}
