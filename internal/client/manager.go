// Package client keeps the registry of job suppliers and connects the active
// one to the solvers.
package client

import (
	"context"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/bardlex/gominer/internal/job"
	"github.com/bardlex/gominer/internal/queue"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/internal/work/engine"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
)

// Attacher is implemented by clients that need their origin and job solver
// before they start. Manager.Add calls Attach once.
type Attacher interface {
	Attach(origin *job.Origin, solver *JobSolver)
}

// Handle is the manager's record of one client.
type Handle struct {
	ID     string
	Client job.Client

	origin       *job.Origin
	sink         *queue.Unbounded[*work.Solution]
	engineSender *work.EngineSender
	solver       *JobSolver
}

// Origin returns the reference jobs of this client must report.
func (h *Handle) Origin() *job.Origin { return h.origin }

// Solver returns the client's job solver.
func (h *Handle) Solver() *JobSolver { return h.solver }

func (h *Handle) String() string { return h.Client.String() }

// Manager owns every client handle and decides which client the solvers
// work for.
type Manager struct {
	logger        *log.Logger
	midstateCount int

	// held for a whole Add so a client is attached at most once
	addMu sync.Mutex

	mu       sync.RWMutex
	handles  []*Handle
	byOrigin map[*job.Origin]*Handle
	active   *Handle
	// coreSender owns the solvers' channel whenever no client is active
	coreSender *work.EngineSender
	runCtx     context.Context
}

// NewManager creates a manager whose clients roll midstateCount versions per assignment.
func NewManager(midstateCount int, logger *log.Logger) *Manager {
	return &Manager{
		logger:        logger.WithComponent("client_manager"),
		midstateCount: midstateCount,
		byOrigin:      make(map[*job.Origin]*Handle),
	}
}

// MidstateCount returns the number of midstates per assignment.
func (m *Manager) MidstateCount() int { return m.midstateCount }

// Add registers c. The first client becomes active. When the manager is
// already running the client is started right away.
func (m *Manager) Add(c job.Client) (*Handle, error) {
	if c == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "add_client", "client is nil")
	}

	h, runCtx, err := m.register(c)
	if err != nil {
		return nil, err
	}
	m.logger.Info("client added", "client", c.String(), "id", h.ID)

	if runCtx != nil {
		m.startClient(runCtx, h)
	}
	return h, nil
}

// register attaches c and records its handle. It returns the run context
// when the manager is already running.
func (m *Manager) register(c job.Client) (*Handle, context.Context, error) {
	m.addMu.Lock()
	defer m.addMu.Unlock()

	m.mu.RLock()
	registered := slices.ContainsFunc(m.handles, func(h *Handle) bool { return h.Client == c })
	m.mu.RUnlock()
	if registered {
		return nil, nil, errors.New(errors.ErrorTypeValidation, "add_client",
			"client is already registered").WithContext("client", c.String())
	}

	sender := work.NewEngineSender(nil)
	sender.ReplaceEngineGenerator(engine.Generator(m.midstateCount))
	sink := queue.NewUnbounded[*work.Solution]()

	h := &Handle{
		ID:           ulid.Make().String(),
		Client:       c,
		origin:       job.NewOrigin(c),
		sink:         sink,
		engineSender: sender,
		solver:       NewJobSolver(sender, sink),
	}
	// attached before it is visible, so the executor never starts it unattached
	if a, ok := c.(Attacher); ok {
		a.Attach(h.origin, h.solver)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles = append(m.handles, h)
	m.byOrigin[h.origin] = h
	if m.active == nil {
		m.activateLocked(h)
	}
	return h, m.runCtx, nil
}

// Remove unregisters h. Its origin is released so in-flight solutions are
// dropped, and its solution sink is closed. If h was active the next client
// takes over.
func (m *Manager) Remove(h *Handle) {
	m.mu.Lock()
	idx := slices.Index(m.handles, h)
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	m.handles = slices.Delete(m.handles, idx, idx+1)
	delete(m.byOrigin, h.origin)
	if m.active == h {
		m.deactivateLocked()
		if len(m.handles) > 0 {
			m.activateLocked(m.handles[0])
		}
	}
	h.origin.Release()
	h.sink.Close()
	m.mu.Unlock()

	h.Client.Stop()
	m.logger.Info("client removed", "client", h.String(), "id", h.ID)
}

// SetActive makes h the client the solvers work for.
func (m *Manager) SetActive(h *Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(m.handles, h) {
		return errors.New(errors.ErrorTypeValidation, "set_active_client",
			"client is not registered").WithContext("client_id", h.ID)
	}
	if m.active == h {
		return nil
	}
	m.deactivateLocked()
	m.activateLocked(h)
	return nil
}

// Active returns the active client, if any.
func (m *Manager) Active() (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active, m.active != nil
}

// List returns the registered clients in the order they were added.
func (m *Manager) List() []*Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.handles)
}

// ClientCount returns the number of registered clients.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

// Route delivers s to the sink of the client that produced its job. It
// returns false when that client is gone.
func (m *Manager) Route(s *work.Solution) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := s.Origin().Upgrade(); !ok {
		return false
	}
	h, ok := m.byOrigin[s.Origin()]
	if !ok {
		return false
	}
	if !h.sink.Push(s) {
		panic("BUG: solution queue send failed")
	}
	return true
}

// attach connects the manager to the solvers' channel. Called once by the executor.
func (m *Manager) attach(coreSender *work.EngineSender) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.coreSender = coreSender
	if m.active != nil {
		m.active.engineSender.SwapSender(coreSender)
	}
}

// detach hands the channel back to the executor.
func (m *Manager) detach() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deactivateLocked()
	m.coreSender = nil
}

func (m *Manager) activateLocked(h *Handle) {
	m.active = h
	if m.coreSender != nil {
		h.engineSender.SwapSender(m.coreSender)
	}
	m.logger.Info("client activated", "client", h.String(), "id", h.ID)
}

func (m *Manager) deactivateLocked() {
	if m.active == nil {
		return
	}
	if m.coreSender != nil {
		m.active.engineSender.SwapSender(m.coreSender)
		m.coreSender.Invalidate()
	}
	m.active = nil
}

func (m *Manager) start(ctx context.Context) []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runCtx = ctx
	return slices.Clone(m.handles)
}

func (m *Manager) startClient(ctx context.Context, h *Handle) {
	if err := h.Client.Start(ctx); err != nil {
		m.logger.WithError(err).Error("failed to start client", "client", h.String(), "id", h.ID)
	}
}

func (m *Manager) stopAll() {
	m.mu.Lock()
	m.runCtx = nil
	handles := slices.Clone(m.handles)
	m.mu.Unlock()

	for _, h := range handles {
		h.Client.Stop()
	}
}
