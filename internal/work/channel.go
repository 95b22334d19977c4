package work

import (
	"context"
	"sync"

	"github.com/bardlex/gominer/internal/job"
)

// swapMu serializes SwapSender so two senders are always locked in one order.
var swapMu sync.Mutex

// EngineSender installs the current engine for every receiver of its channel.
type EngineSender struct {
	mu        sync.Mutex
	generator EngineGenerator
	current   Engine
	tx        *watch
}

// NewEngineChannel creates a connected sender and receiver. The channel starts
// with ExhaustedWork and the sender with a generator that only yields
// ExhaustedWork until ReplaceEngineGenerator installs a real one.
func NewEngineChannel(handler ExhaustedHandler) (*EngineSender, *EngineReceiver) {
	w := newWatch(ExhaustedWork)
	sender := &EngineSender{
		generator: exhaustedGenerator,
		current:   ExhaustedWork,
		tx:        w,
	}
	return sender, newEngineReceiver(w, handler)
}

// NewEngineSender creates a sender with no receivers. It only becomes visible
// to solvers after SwapSender hands it the endpoint of a live channel. A nil
// engine starts as ExhaustedWork.
func NewEngineSender(engine Engine) *EngineSender {
	if engine == nil {
		engine = ExhaustedWork
	}
	return &EngineSender{
		generator: exhaustedGenerator,
		current:   engine,
	}
}

func (s *EngineSender) rebroadcastLocked() {
	if s.tx != nil {
		s.tx.publish(s.current)
	}
}

// BroadcastEngine makes e the current engine.
func (s *EngineSender) BroadcastEngine(e Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = e
	s.rebroadcastLocked()
}

// BroadcastJob generates an engine for j and broadcasts it.
func (s *EngineSender) BroadcastJob(j job.Bitcoin) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generator == nil {
		panic("BUG: missing engine generator")
	}
	s.current = s.generator(j)
	s.rebroadcastLocked()
}

// Invalidate replaces the current engine with ExhaustedWork so solvers stop
// receiving work until the next broadcast.
func (s *EngineSender) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = ExhaustedWork
	s.rebroadcastLocked()
}

// ReplaceEngineGenerator installs g and returns the previous generator.
func (s *EngineSender) ReplaceEngineGenerator(g EngineGenerator) EngineGenerator {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generator == nil {
		panic("BUG: missing engine generator")
	}
	old := s.generator
	s.generator = g
	return old
}

// SwapSender exchanges the channel endpoints of s and other, then publishes
// each sender's current engine on its new endpoint. Receivers stay subscribed
// and simply start seeing the other sender's engines.
func (s *EngineSender) SwapSender(other *EngineSender) {
	if s == other {
		panic("BUG: swapping the same engine sender")
	}

	swapMu.Lock()
	defer swapMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	s.tx, other.tx = other.tx, s.tx

	s.rebroadcastLocked()
	other.rebroadcastLocked()
}

// Engine returns the engine last installed by this sender.
func (s *EngineSender) Engine() Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Connected reports whether the sender currently owns a channel endpoint.
func (s *EngineSender) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

// Close ends the channel. Receivers drain the current engine and then get no engine.
func (s *EngineSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		s.tx.close()
	}
}

// EngineReceiver hands the newest engine to a solver.
type EngineReceiver struct {
	rx      *watch
	handler ExhaustedHandler
}

func newEngineReceiver(rx *watch, handler ExhaustedHandler) *EngineReceiver {
	if handler == nil {
		handler = IgnoreEvents{}
	}
	return &EngineReceiver{rx: rx, handler: handler}
}

// GetEngine returns the current engine as long as it can still produce work.
// Otherwise it waits for the next broadcast and checks again. It returns false
// when the channel is closed or ctx is done.
func (r *EngineReceiver) GetEngine(ctx context.Context) (Engine, bool) {
	for {
		engine, _, changed, closed := r.rx.load()
		if !engine.IsExhausted() {
			return engine, true
		}
		if closed {
			return nil, false
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// HandleExhausted must be called by the consumer that took the last
// assignment out of e.
func (r *EngineReceiver) HandleExhausted(e Engine) {
	r.handler.HandleExhausted(e)
}

// Clone returns another subscriber of the same channel.
func (r *EngineReceiver) Clone() *EngineReceiver {
	return &EngineReceiver{rx: r.rx, handler: r.handler}
}
