package work

import "sync"

// watch is a single-slot broadcast: the latest engine, a version counter and
// a channel that is closed whenever the slot changes. Readers never see a
// backlog, only the newest value.
type watch struct {
	mu      sync.RWMutex
	value   Engine
	version uint64
	changed chan struct{}
	closed  bool
}

func newWatch(initial Engine) *watch {
	return &watch{
		value:   initial,
		changed: make(chan struct{}),
	}
}

// publish stores e and wakes every waiter. It returns false once closed.
func (w *watch) publish(e Engine) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	w.value = e
	w.version++
	close(w.changed)
	w.changed = make(chan struct{})
	return true
}

// load returns a coherent snapshot of the slot and the channel that will be
// closed on the next change.
func (w *watch) load() (value Engine, version uint64, changed <-chan struct{}, closed bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.value, w.version, w.changed, w.closed
}

func (w *watch) close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true
	close(w.changed)
}
