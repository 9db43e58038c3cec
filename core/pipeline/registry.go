package pipeline

import "sync"

// Interruptible is the part of an event the registry needs: Interrupt must
// report whether the call actually cancelled anything.
type Interruptible interface {
	Interrupt() bool
}

// Registry tracks every interruptible event created since the last broadcast
// so an interrupt can atomically cover all in-flight work.
//
// Producers register events at creation time, under the same lock that a
// broadcast drains, so no event can straddle a broadcast in an undefined
// state: it is either registered (and gets interrupted) or created after the
// drain (and belongs to the next turn).
type Registry struct {
	mu     sync.Mutex
	events []Interruptible
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Track registers an outstanding event.
func (r *Registry) Track(event Interruptible) {
	if event == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// BroadcastInterrupt interrupts every outstanding event and forgets them.
//
// It reports whether at least one event was actually interruptible and not
// already interrupted.
func (r *Registry) BroadcastInterrupt() bool {
	r.mu.Lock()
	events := r.events
	r.events = nil
	r.mu.Unlock()

	interruptedAny := false
	for _, event := range events {
		if event.Interrupt() {
			interruptedAny = true
		}
	}
	return interruptedAny
}

// Outstanding reports the number of tracked events.
func (r *Registry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
