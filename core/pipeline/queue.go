package pipeline

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO hand-off between exactly one producer side and
// one consuming worker. It is safe for cross-goroutine (and cross-OS-thread)
// use in both directions.
//
// Items that were dequeued are never returned to the queue.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	consumed int
	closed   bool

	updateSignal chan struct{}
}

// NewQueue returns an empty open queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		updateSignal: make(chan struct{}, 1),
	}
}

// Push appends an item. It reports whether the item was accepted; a closed
// queue rejects everything.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.signalUpdate()
	return true
}

// Receive blocks until an item is available, the queue is closed, or ctx is
// cancelled. The second return value is false exactly when no item was
// dequeued.
func (q *Queue[T]) Receive(ctx context.Context) (T, bool) {
	var zero T
	for {
		q.mu.Lock()
		if q.consumed < len(q.items) {
			item := q.items[q.consumed]
			q.items[q.consumed] = zero
			q.consumed++
			remaining := q.consumed < len(q.items)
			if !remaining {
				q.compactLocked()
			}
			q.mu.Unlock()
			if remaining {
				// Keep the signal hot for any concurrent receiver.
				q.signalUpdate()
			}
			return item, true
		}
		if q.closed {
			q.mu.Unlock()
			return zero, false
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, false
		case <-q.updateSignal:
		}
	}
}

// TryReceive dequeues without blocking.
func (q *Queue[T]) TryReceive() (T, bool) {
	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.consumed >= len(q.items) {
		return zero, false
	}
	item := q.items[q.consumed]
	q.items[q.consumed] = zero
	q.consumed++
	if q.consumed == len(q.items) {
		q.compactLocked()
	}
	return item, true
}

// Len reports the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.consumed
}

// Clear drops every pending item and returns the dropped items so the caller
// can run per-item bookkeeping (e.g. interrupting dropped events).
func (q *Queue[T]) Clear() []T {
	q.mu.Lock()
	dropped := append([]T(nil), q.items[q.consumed:]...)
	q.items = nil
	q.consumed = 0
	q.mu.Unlock()
	return dropped
}

// Close rejects further pushes and wakes a pending Receive once the backlog
// drains. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signalUpdate()
}

// Closed reports whether Close was called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// compactLocked resets the drained slice so long-lived queues do not
// accumulate consumed slots without bound. The backing array is kept; its
// consumed slots were already zeroed.
func (q *Queue[T]) compactLocked() {
	q.items = q.items[:0]
	q.consumed = 0
}

func (q *Queue[T]) signalUpdate() {
	select {
	case q.updateSignal <- struct{}{}:
	default:
	}
}
