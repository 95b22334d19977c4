// Package queue provides an unbounded multi-producer FIFO used for solution
// delivery, where producers are hashing loops that must never block.
package queue

import (
	"context"
	"sync"
)

// compactMin is the consumed prefix length below which the backing slice is
// left alone.
const compactMin = 64

// Unbounded is a FIFO queue whose Push never blocks. It is safe for any
// number of producers and consumers; each item is received exactly once.
type Unbounded[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	closed bool
	notify chan struct{}
}

// NewUnbounded creates an empty open queue.
func NewUnbounded[T any]() *Unbounded[T] {
	return &Unbounded[T]{notify: make(chan struct{}, 1)}
}

// Push appends v. It returns false when the queue is closed.
func (q *Unbounded[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	q.signal()
	return true
}

// Pop blocks until an item is available, the queue is closed and drained, or
// ctx is done. The boolean is false in the latter two cases.
func (q *Unbounded[T]) Pop(ctx context.Context) (T, bool) {
	for {
		if v, ok, closed := q.tryPop(); ok || closed {
			return v, ok
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// TryPop returns the next item without blocking.
func (q *Unbounded[T]) TryPop() (T, bool) {
	v, ok, _ := q.tryPop()
	return v, ok
}

func (q *Unbounded[T]) tryPop() (v T, ok, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head < len(q.items) {
		v = q.items[q.head]
		var zero T
		q.items[q.head] = zero
		q.head++
		switch {
		case q.head == len(q.items):
			q.items = q.items[:0]
			q.head = 0
		case q.head >= compactMin && q.head*2 >= len(q.items):
			// reclaim the consumed prefix of a queue that never drains
			n := copy(q.items, q.items[q.head:])
			clear(q.items[n:])
			q.items = q.items[:n]
			q.head = 0
		}
		// more items or a close may be pending for other consumers
		if q.head < len(q.items) || q.closed {
			q.signal()
		}
		return v, true, false
	}
	if q.closed {
		// wake the next consumer so it observes the close as well
		q.signal()
	}
	return v, false, q.closed
}

// Len returns the number of queued items.
func (q *Unbounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close stops accepting new items. Items already queued can still be popped.
func (q *Unbounded[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal()
}

// Closed reports whether Close was called.
func (q *Unbounded[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Unbounded[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
