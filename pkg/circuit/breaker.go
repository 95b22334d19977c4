// Package circuit guards calls to bitcoind, Kafka and Postgres. After a run of
// failures the breaker opens and rejects calls until a cool-down has passed,
// then lets probes through until enough of them succeed.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/bardlex/gominer/pkg/errors"
)

// State is the position of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Config tunes a breaker.
type Config struct {
	Name string

	// MaxFailures failures within one ResetTimeout window open the breaker.
	MaxFailures  int
	ResetTimeout time.Duration

	// Timeout is the open cool-down. Afterwards SuccessRequired probes in a
	// row must pass before the breaker closes again.
	Timeout         time.Duration
	SuccessRequired int

	// OnStateChange runs after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)

	// Clock defaults to the wall clock.
	Clock clockwork.Clock
}

// DefaultConfig suits the exporters.
func DefaultConfig() *Config {
	return &Config{
		Name:            "default",
		MaxFailures:     5,
		ResetTimeout:    time.Minute,
		Timeout:         30 * time.Second,
		SuccessRequired: 3,
	}
}

// RPCConfig is tuned for bitcoind, which is local and usually either up or down.
func RPCConfig() *Config {
	return &Config{
		Name:            "bitcoind",
		MaxFailures:     3,
		ResetTimeout:    30 * time.Second,
		Timeout:         10 * time.Second,
		SuccessRequired: 2,
	}
}

// Counts is a snapshot of a breaker.
type Counts struct {
	State     State
	Failures  int
	Successes int
	LastFail  time.Time
}

// Breaker is safe for concurrent use.
type Breaker struct {
	cfg   Config
	clock clockwork.Clock

	mu          sync.Mutex
	counts      Counts
	windowStart time.Time
}

// New builds a closed breaker. A nil config means DefaultConfig.
func New(cfg *Config) *Breaker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Breaker{
		cfg:         *cfg,
		clock:       clock,
		windowStart: clock.Now(),
	}
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	_, err := ExecuteWithResult(ctx, b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// ExecuteWithResult runs fn unless b is open. A done context is returned
// as is and does not count against the breaker.
func ExecuteWithResult[T any](ctx context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	if state, ok := b.admit(); !ok {
		return zero, errors.New(errors.ErrorTypeInternal, "circuit_breaker", "circuit breaker is open").
			WithContext("breaker", b.cfg.Name).
			WithContext("state", state.String())
	}

	v, err := fn()
	b.observe(err)
	return v, err
}

// admit decides whether a call may proceed, moving open to half-open once
// the cool-down is over.
func (b *Breaker) admit() (State, bool) {
	b.mu.Lock()
	from := b.counts.State
	now := b.clock.Now()

	switch from {
	case StateClosed:
		if now.Sub(b.windowStart) > b.cfg.ResetTimeout {
			b.counts.Failures = 0
			b.windowStart = now
		}
	case StateOpen:
		if now.Sub(b.counts.LastFail) <= b.cfg.Timeout {
			b.mu.Unlock()
			return from, false
		}
		b.moveLocked(StateHalfOpen)
	}

	to := b.counts.State
	b.mu.Unlock()
	b.transitioned(from, to)
	return to, true
}

func (b *Breaker) observe(err error) {
	b.mu.Lock()
	from := b.counts.State

	if err == nil {
		b.counts.Successes++
		if from == StateHalfOpen && b.counts.Successes >= b.cfg.SuccessRequired {
			b.moveLocked(StateClosed)
		}
	} else {
		b.counts.Failures++
		b.counts.LastFail = b.clock.Now()
		if from == StateHalfOpen || b.counts.Failures >= b.cfg.MaxFailures {
			b.moveLocked(StateOpen)
		}
	}

	to := b.counts.State
	b.mu.Unlock()
	b.transitioned(from, to)
}

// moveLocked switches state and clears the counter the new state starts from.
func (b *Breaker) moveLocked(to State) {
	b.counts.State = to
	b.counts.Successes = 0
	if to == StateClosed {
		b.counts.Failures = 0
		b.windowStart = b.clock.Now()
	}
}

func (b *Breaker) transitioned(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	return b.Counts().State
}

// Counts returns a snapshot of the breaker.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.counts.State
	b.moveLocked(StateClosed)
	b.mu.Unlock()
	b.transitioned(from, StateClosed)
}
