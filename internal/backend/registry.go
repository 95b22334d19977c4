// Package backend keeps track of the hubs and solvers that make up the
// backend hierarchy while it is built and afterwards.
package backend

import (
	"context"
	"slices"
	"weak"

	"golang.org/x/sync/semaphore"

	"github.com/bardlex/gominer/internal/node"
)

// Registry records the root hub and every hub and solver in registration
// order. Registration may block for a while during bring-up, so the lock is
// a context-aware semaphore rather than a mutex.
type Registry struct {
	sem     *semaphore.Weighted
	root    node.WorkHub
	hubs    []node.WorkHub
	solvers []node.WorkSolver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sem: semaphore.NewWeighted(1)}
}

func (r *Registry) lock(ctx context.Context) error {
	return r.sem.Acquire(ctx, 1)
}

func (r *Registry) unlock() {
	r.sem.Release(1)
}

// RegisterHub appends hub to the hub list.
func (r *Registry) RegisterHub(ctx context.Context, hub node.WorkHub) error {
	if err := r.lock(ctx); err != nil {
		return err
	}
	defer r.unlock()

	r.hubs = append(r.hubs, hub)
	return nil
}

// RegisterSolver appends solver to the solver list.
func (r *Registry) RegisterSolver(ctx context.Context, solver node.WorkSolver) error {
	if err := r.lock(ctx); err != nil {
		return err
	}
	defer r.unlock()

	r.solvers = append(r.solvers, solver)
	return nil
}

// SetRoot records hub as the root. Only the first call has an effect; the
// result reports whether hub became the root.
func (r *Registry) SetRoot(ctx context.Context, hub node.WorkHub) (bool, error) {
	if err := r.lock(ctx); err != nil {
		return false, err
	}
	defer r.unlock()

	if r.root != nil {
		return false, nil
	}
	r.root = hub
	return true, nil
}

// Root returns the root hub, if one was set.
func (r *Registry) Root(ctx context.Context) (node.WorkHub, bool) {
	if err := r.lock(ctx); err != nil {
		return nil, false
	}
	defer r.unlock()

	return r.root, r.root != nil
}

// Hubs returns a snapshot of the registered hubs.
func (r *Registry) Hubs(ctx context.Context) []node.WorkHub {
	if err := r.lock(ctx); err != nil {
		return nil
	}
	defer r.unlock()

	return slices.Clone(r.hubs)
}

// Solvers returns a snapshot of the registered solvers.
func (r *Registry) Solvers(ctx context.Context) []node.WorkSolver {
	if err := r.lock(ctx); err != nil {
		return nil
	}
	defer r.unlock()

	return slices.Clone(r.solvers)
}

// WeakRegistry is a non-owning reference to a Registry. Once the owner drops
// the registry every lookup returns empty results. The zero value is dead.
type WeakRegistry struct {
	ptr weak.Pointer[Registry]
}

// Weak returns a non-owning reference to r.
func (r *Registry) Weak() WeakRegistry {
	return WeakRegistry{ptr: weak.Make(r)}
}

// Upgrade returns the registry while it is still alive.
func (w WeakRegistry) Upgrade() (*Registry, bool) {
	r := w.ptr.Value()
	return r, r != nil
}

// Root returns the root hub, or false when none is set or the registry is gone.
func (w WeakRegistry) Root(ctx context.Context) (node.WorkHub, bool) {
	r, ok := w.Upgrade()
	if !ok {
		return nil, false
	}
	return r.Root(ctx)
}

// Hubs returns a snapshot of the hubs, empty when the registry is gone.
func (w WeakRegistry) Hubs(ctx context.Context) []node.WorkHub {
	r, ok := w.Upgrade()
	if !ok {
		return nil
	}
	return r.Hubs(ctx)
}

// Solvers returns a snapshot of the solvers, empty when the registry is gone.
func (w WeakRegistry) Solvers(ctx context.Context) []node.WorkSolver {
	r, ok := w.Upgrade()
	if !ok {
		return nil
	}
	return r.Solvers(ctx)
}
