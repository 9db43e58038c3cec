package pipeline

import "sync"

// Event wraps one unit of pipeline work with cancellation bookkeeping.
//
// An event is created interruptible. Interrupt marks it cancelled exactly
// once; PassPointOfNoReturn permanently disables interruption. The two flags
// never race into an undefined combination because every transition happens
// under the same lock.
type Event[T any] struct {
	// Payload is owned by the producer until the event is handed off, then by
	// the consuming worker. Mutation outside the owner is forbidden.
	Payload T

	mu            sync.Mutex
	interruptible bool
	interrupted   bool
}

// NewEvent wraps payload in an interruptible envelope.
func NewEvent[T any](payload T) *Event[T] {
	return &Event[T]{Payload: payload, interruptible: true}
}

// NewUninterruptibleEvent wraps payload in an envelope that was never
// interruptible, for work that must always run to completion.
func NewUninterruptibleEvent[T any](payload T) *Event[T] {
	return &Event[T]{Payload: payload}
}

// Interrupt requests cancellation of the wrapped work.
//
// It reports whether this call actually interrupted the event: false when the
// event already passed its point of no return or was interrupted before.
func (e *Event[T]) Interrupt() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.interruptible || e.interrupted {
		return false
	}
	e.interrupted = true
	return true
}

// Interrupted reports whether the event was cancelled.
func (e *Event[T]) Interrupted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interrupted
}

// Interruptible reports whether the event can still be interrupted.
func (e *Event[T]) Interruptible() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interruptible && !e.interrupted
}

// PassPointOfNoReturn marks the wrapped work as committed. The transition is
// one-way: every later Interrupt call is a no-op.
func (e *Event[T]) PassPointOfNoReturn() {
	e.mu.Lock()
	e.interruptible = false
	e.mu.Unlock()
}
