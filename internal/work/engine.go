// Package work turns jobs into hardware-ready assignments and carries them to
// the solvers. The current engine is broadcast with last-value-wins semantics
// and solutions travel back through a shared unbounded queue.
package work

import "github.com/bardlex/gominer/internal/job"

// Engine produces assignments for one job until it is exhausted. One engine
// is shared by every solver at once, so implementations must be safe for
// concurrent use.
type Engine interface {
	// Terminate forces the engine into the exhausted state.
	Terminate()
	// IsExhausted is a cheap peek that does not consume work.
	IsExhausted() bool
	// NextWork returns the next assignment. After Break or Exhausted every
	// further call returns Exhausted.
	NextWork() LoopState[*Assignment]
}

// EngineGenerator turns a job into the engine that supplies its work.
type EngineGenerator func(j job.Bitcoin) Engine

type exhaustedWork struct{}

func (exhaustedWork) Terminate()                       {}
func (exhaustedWork) IsExhausted() bool                { return true }
func (exhaustedWork) NextWork() LoopState[*Assignment] { return Exhausted[*Assignment]() }
func (exhaustedWork) String() string                   { return "exhausted" }

// ExhaustedWork never has work. Channels start with it and return to it on Invalidate.
var ExhaustedWork Engine = exhaustedWork{}

func exhaustedGenerator(job.Bitcoin) Engine { return ExhaustedWork }

// ExhaustedHandler is told when a consumer takes the last assignment of an engine.
type ExhaustedHandler interface {
	HandleExhausted(e Engine)
}

// ExhaustedHandlerFunc adapts a function to ExhaustedHandler.
type ExhaustedHandlerFunc func(e Engine)

func (f ExhaustedHandlerFunc) HandleExhausted(e Engine) { f(e) }

// IgnoreEvents drops every exhaustion event.
type IgnoreEvents struct{}

func (IgnoreEvents) HandleExhausted(Engine) {}
