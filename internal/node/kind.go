package node

// Kind tells a hub from a solver.
type Kind int

const (
	KindHub Kind = iota + 1
	KindSolver
)

func (k Kind) String() string {
	switch k {
	case KindHub:
		return "hub"
	case KindSolver:
		return "solver"
	default:
		return "unknown"
	}
}

// WorkSolverType is what a backend answers when asked how it wants to be
// built. Exactly one of the create functions is set, and it is called once.
type WorkSolverType struct {
	kind         Kind
	createHub    func() WorkHub
	createSolver func() WorkSolver
}

// Hub builds a WorkSolverType for a branching backend.
func Hub(create func() WorkHub) WorkSolverType {
	return WorkSolverType{kind: KindHub, createHub: create}
}

// Solver builds a WorkSolverType for a terminal backend.
func Solver(create func() WorkSolver) WorkSolverType {
	return WorkSolverType{kind: KindSolver, createSolver: create}
}

// Kind returns which arm of the variant is set.
func (t WorkSolverType) Kind() Kind { return t.kind }

// IsHub reports whether the backend is built as a hub.
func (t WorkSolverType) IsHub() bool { return t.kind == KindHub }

// IsSolver reports whether the backend is built as a solver.
func (t WorkSolverType) IsSolver() bool { return t.kind == KindSolver }

// CreateHub runs the hub constructor. It panics when called on a solver variant.
func (t WorkSolverType) CreateHub() WorkHub {
	if t.kind != KindHub || t.createHub == nil {
		panic("BUG: WorkSolverType is not a hub")
	}
	return t.createHub()
}

// CreateSolver runs the solver constructor. It panics when called on a hub variant.
func (t WorkSolverType) CreateSolver() WorkSolver {
	if t.kind != KindSolver || t.createSolver == nil {
		panic("BUG: WorkSolverType is not a solver")
	}
	return t.createSolver()
}
