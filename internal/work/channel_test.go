package work

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bardlex/gominer/internal/job"
)

// countEngine yields n assignments, the last as Break.
type countEngine struct {
	mu   sync.Mutex
	name string
	left int
}

func newCountEngine(name string, n int) *countEngine {
	return &countEngine{name: name, left: n}
}

func (e *countEngine) String() string { return e.name }

func (e *countEngine) Terminate() {
	e.mu.Lock()
	e.left = 0
	e.mu.Unlock()
}

func (e *countEngine) IsExhausted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.left == 0
}

func (e *countEngine) NextWork() LoopState[*Assignment] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.left == 0 {
		return Exhausted[*Assignment]()
	}
	e.left--
	a := &Assignment{}
	if e.left == 0 {
		return Break(a)
	}
	return Continue(a)
}

func getEngine(t *testing.T, r *EngineReceiver) Engine {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	e, ok := r.GetEngine(ctx)
	if !ok {
		t.Fatal("GetEngine() returned no engine")
	}
	return e
}

func TestChannelStartsExhausted(t *testing.T) {
	_, receiver := NewEngineChannel(IgnoreEvents{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if e, ok := receiver.GetEngine(ctx); ok {
		t.Fatalf("GetEngine() = %v on a fresh channel", e)
	}
}

func TestChannelLastValueWins(t *testing.T) {
	sender, receiver := NewEngineChannel(IgnoreEvents{})

	e1, e2, e3 := newCountEngine("e1", 1), newCountEngine("e2", 1), newCountEngine("e3", 1)
	sender.BroadcastEngine(e1)
	sender.BroadcastEngine(e2)
	sender.BroadcastEngine(e3)

	if got := getEngine(t, receiver); got != e3 {
		t.Errorf("GetEngine() = %v, want e3", got)
	}
}

func TestChannelSingleBroadcastObserved(t *testing.T) {
	for i := 0; i < 100; i++ {
		sender, receiver := NewEngineChannel(IgnoreEvents{})

		got := make(chan Engine, 1)
		go func() {
			e, _ := receiver.Clone().GetEngine(context.Background())
			got <- e
		}()

		e := newCountEngine("only", 1)
		sender.BroadcastEngine(e)

		select {
		case observed := <-got:
			if observed != e {
				t.Fatalf("iteration %d: observed %v", i, observed)
			}
		case <-time.After(time.Second):
			t.Fatalf("iteration %d: broadcast was never observed", i)
		}
	}
}

func TestChannelSkipsExhaustedEngines(t *testing.T) {
	sender, receiver := NewEngineChannel(IgnoreEvents{})

	done := make(chan Engine, 1)
	go func() {
		e, _ := receiver.GetEngine(context.Background())
		done <- e
	}()

	spent := newCountEngine("spent", 0)
	sender.BroadcastEngine(spent)
	live := newCountEngine("live", 1)
	sender.BroadcastEngine(live)

	select {
	case e := <-done:
		if e != live {
			t.Errorf("GetEngine() = %v, want live", e)
		}
	case <-time.After(time.Second):
		t.Fatal("GetEngine() did not return")
	}
}

func TestChannelReturnsSameEngineUntilExhausted(t *testing.T) {
	sender, receiver := NewEngineChannel(IgnoreEvents{})
	e := newCountEngine("e", 2)
	sender.BroadcastEngine(e)

	if getEngine(t, receiver) != getEngine(t, receiver) {
		t.Error("GetEngine() changed engine without a broadcast")
	}
}

func TestChannelInvalidate(t *testing.T) {
	sender, receiver := NewEngineChannel(IgnoreEvents{})
	sender.BroadcastEngine(newCountEngine("e", 5))
	sender.Invalidate()

	if !sender.Engine().IsExhausted() {
		t.Error("Engine() is not exhausted after Invalidate")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := receiver.GetEngine(ctx); ok {
		t.Error("GetEngine() returned an engine after Invalidate")
	}
}

func TestChannelClose(t *testing.T) {
	sender, receiver := NewEngineChannel(IgnoreEvents{})

	done := make(chan bool, 1)
	go func() {
		_, ok := receiver.GetEngine(context.Background())
		done <- ok
	}()
	sender.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("GetEngine() returned an engine from a closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("GetEngine() did not observe Close")
	}
}

func TestChannelCloseKeepsLiveEngine(t *testing.T) {
	sender, receiver := NewEngineChannel(IgnoreEvents{})
	e := newCountEngine("e", 3)
	sender.BroadcastEngine(e)
	sender.Close()

	if got := getEngine(t, receiver); got != e {
		t.Errorf("GetEngine() = %v after Close, want the live engine", got)
	}
}

func TestBroadcastJobUsesGenerator(t *testing.T) {
	sender, receiver := NewEngineChannel(IgnoreEvents{})

	e := newCountEngine("generated", 1)
	old := sender.ReplaceEngineGenerator(func(j job.Bitcoin) Engine { return e })
	if !old(nil).IsExhausted() {
		t.Error("default generator produced work")
	}

	sender.BroadcastJob(nil)
	if got := getEngine(t, receiver); got != e {
		t.Errorf("GetEngine() = %v, want generated engine", got)
	}
}

func TestBroadcastJobWithoutGeneratorPanics(t *testing.T) {
	sender, _ := NewEngineChannel(IgnoreEvents{})
	sender.ReplaceEngineGenerator(nil)

	defer func() {
		if r := recover(); r != "BUG: missing engine generator" {
			t.Errorf("recover() = %v", r)
		}
	}()
	sender.BroadcastJob(nil)
}

func TestSwapSender(t *testing.T) {
	core, receiver := NewEngineChannel(IgnoreEvents{})
	core.BroadcastEngine(newCountEngine("core", 1))

	clientEngine := newCountEngine("client", 1)
	client := NewEngineSender(clientEngine)
	if client.Connected() {
		t.Fatal("standalone sender has an endpoint")
	}

	client.SwapSender(core)
	if !client.Connected() || core.Connected() {
		t.Fatal("endpoints were not exchanged")
	}
	if got := getEngine(t, receiver); got != clientEngine {
		t.Errorf("GetEngine() = %v after swap, want client engine", got)
	}

	next := newCountEngine("next", 1)
	client.BroadcastEngine(next)
	if got := getEngine(t, receiver); got != next {
		t.Errorf("GetEngine() = %v, want next", got)
	}

	// swapping back restores the original owner
	core.SwapSender(client)
	if got := getEngine(t, receiver); got.(*countEngine).name != "core" {
		t.Errorf("GetEngine() = %v after swapping back", got)
	}
}

func TestSwapSenderWithItselfPanics(t *testing.T) {
	sender, _ := NewEngineChannel(IgnoreEvents{})

	defer func() {
		if r := recover(); r != "BUG: swapping the same engine sender" {
			t.Errorf("recover() = %v", r)
		}
	}()
	sender.SwapSender(sender)
}

func TestHandleExhaustedForwards(t *testing.T) {
	var got Engine
	_, receiver := NewEngineChannel(ExhaustedHandlerFunc(func(e Engine) { got = e }))

	e := newCountEngine("e", 0)
	receiver.HandleExhausted(e)
	if got != e {
		t.Errorf("handler got %v", got)
	}
}
