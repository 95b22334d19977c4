package client

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bardlex/gominer/internal/job"
	"github.com/bardlex/gominer/internal/testutil"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
)

type attachingClient struct {
	*testutil.Client
	origin   *job.Origin
	solver   *JobSolver
	attached atomic.Int32
	started  atomic.Int32
	stopped atomic.Int32
}

func (c *attachingClient) Attach(origin *job.Origin, solver *JobSolver) {
	c.attached.Add(1)
	c.origin, c.solver = origin, solver
}

func (c *attachingClient) Start(context.Context) error {
	c.started.Add(1)
	return nil
}

func (c *attachingClient) Stop() { c.stopped.Add(1) }

func newAttachingClient(name string) *attachingClient {
	return &attachingClient{Client: testutil.NewClient(name)}
}

func mustAdd(t *testing.T, m *Manager, c job.Client) *Handle {
	t.Helper()
	h, err := m.Add(c)
	if err != nil {
		t.Fatalf("Add(%s) error = %v", c, err)
	}
	return h
}

func getEngine(t *testing.T, r *work.EngineReceiver, timeout time.Duration) (work.Engine, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return r.GetEngine(ctx)
}

func TestManagerAdd(t *testing.T) {
	m := NewManager(1, log.Discard())

	c := newAttachingClient("solo")
	h := mustAdd(t, m, c)

	if h.ID == "" {
		t.Error("handle has no id")
	}
	if c.origin != h.Origin() || c.solver != h.Solver() {
		t.Error("Attach was not called with the handle's origin and solver")
	}
	if got, ok := h.Origin().Upgrade(); !ok || got != job.Client(c) {
		t.Errorf("origin resolves to %v, %v", got, ok)
	}
	if active, ok := m.Active(); !ok || active != h {
		t.Error("first client is not active")
	}

	_, err := m.Add(c)
	if !errors.IsType(err, errors.ErrorTypeValidation) {
		t.Errorf("duplicate Add() error = %v", err)
	}
	if _, err := m.Add(nil); err == nil {
		t.Error("Add(nil) succeeded")
	}
	if m.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d", m.ClientCount())
	}
}

func TestManagerConcurrentAddSameClient(t *testing.T) {
	m := NewManager(1, log.Discard())
	c := newAttachingClient("solo")

	const callers = 16
	var wg sync.WaitGroup
	var added atomic.Int32
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Add(c); err == nil {
				added.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := added.Load(); got != 1 {
		t.Errorf("successful Add calls = %d, want 1", got)
	}
	if got := c.attached.Load(); got != 1 {
		t.Errorf("Attach calls = %d, want 1", got)
	}
	if m.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", m.ClientCount())
	}
	h := m.List()[0]
	if c.origin != h.Origin() || c.solver != h.Solver() {
		t.Error("client is attached to a handle the manager does not hold")
	}
}

func TestManagerIDsAreUnique(t *testing.T) {
	m := NewManager(1, log.Discard())
	a := mustAdd(t, m, testutil.NewClient("a"))
	b := mustAdd(t, m, testutil.NewClient("b"))
	if a.ID == b.ID {
		t.Errorf("duplicate id %s", a.ID)
	}
}

func TestManagerRoute(t *testing.T) {
	m := NewManager(1, log.Discard())
	c := testutil.NewClient("pool")
	h := mustAdd(t, m, c)

	block := testutil.TestBlocks()[0].WithOrigin(h.Origin())
	solution := testutil.Solution(block)
	if !m.Route(solution) {
		t.Fatal("Route() dropped a solution of a live client")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := h.Solver().SolutionReceiver.Receive(ctx)
	if !ok || got != solution {
		t.Fatalf("Receive() = %v, %v", got, ok)
	}

	// a solution from a client the manager does not know
	if m.Route(testutil.Solution(testutil.TestBlocks()[0].WithOrigin(job.NewOrigin(testutil.NewClient("stranger"))))) {
		t.Error("Route() delivered a solution of an unknown client")
	}

	m.Remove(h)
	if m.Route(solution) {
		t.Error("Route() delivered to a removed client")
	}
	if _, ok := h.Solver().SolutionReceiver.Receive(ctx); ok {
		t.Error("sink of a removed client is still open")
	}
}

func TestManagerSwitchesChannelOwner(t *testing.T) {
	m := NewManager(1, log.Discard())
	coreSender, receiver := work.NewEngineChannel(work.IgnoreEvents{})

	a := newAttachingClient("a")
	b := newAttachingClient("b")
	ha := mustAdd(t, m, a)
	hb := mustAdd(t, m, b)

	m.attach(coreSender)

	blocks := testutil.TestBlocks()
	a.solver.JobSender.Send(blocks[0].WithOrigin(ha.Origin()).Job())
	b.solver.JobSender.Send(blocks[1].WithOrigin(hb.Origin()).Job())

	e, ok := getEngine(t, receiver, time.Second)
	if !ok {
		t.Fatal("no engine from the active client")
	}
	if got := e.NextWork().Value().Job().Origin(); got != ha.Origin() {
		t.Error("solvers do not work for the first client")
	}

	if err := m.SetActive(hb); err != nil {
		t.Fatal(err)
	}
	e, ok = getEngine(t, receiver, time.Second)
	if !ok {
		t.Fatal("no engine after switching clients")
	}
	if got := e.NextWork().Value().Job().Origin(); got != hb.Origin() {
		t.Error("solvers do not work for the second client")
	}

	// removing the active client hands the channel to the next one
	m.Remove(hb)
	if active, _ := m.Active(); active != ha {
		t.Error("remaining client was not activated")
	}
	if b.stopped.Load() != 1 {
		t.Errorf("removed client stopped %d times", b.stopped.Load())
	}

	m.Remove(ha)
	if _, ok := m.Active(); ok {
		t.Error("manager without clients has an active client")
	}
	if _, ok := getEngine(t, receiver, 20*time.Millisecond); ok {
		t.Error("solvers still get work with no clients")
	}
}

func TestManagerSetActiveUnknown(t *testing.T) {
	m := NewManager(1, log.Discard())
	other := NewManager(1, log.Discard())
	h := mustAdd(t, other, testutil.NewClient("elsewhere"))

	if err := m.SetActive(h); !errors.IsType(err, errors.ErrorTypeValidation) {
		t.Errorf("SetActive() error = %v", err)
	}
}

func TestJobExecutorRun(t *testing.T) {
	m := NewManager(1, log.Discard())
	coreSender, receiver := work.NewEngineChannel(work.IgnoreEvents{})
	executor := NewJobExecutor(coreSender, m, log.Discard())

	early := newAttachingClient("early")
	mustAdd(t, m, early)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- executor.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for early.started.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if early.started.Load() != 1 {
		t.Fatalf("registered client started %d times", early.started.Load())
	}

	block := testutil.TestBlocks()[0]
	early.solver.JobSender.Send(block.WithOrigin(early.origin).Job())
	if _, ok := getEngine(t, receiver, time.Second); !ok {
		t.Fatal("job of the active client never reached the channel")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return")
	}
	if early.stopped.Load() != 1 {
		t.Errorf("client stopped %d times", early.stopped.Load())
	}
	if _, ok := getEngine(t, receiver, time.Second); ok {
		t.Error("channel still open after Run returned")
	}
}
