// Package clock provides logical clocks for causal event ordering:
// a scalar Lamport clock and a vector clock with partial-order comparison.
//
// Both clocks are pure local state machines — no I/O, no blocking — and are
// safe for concurrent use. Timestamp application-level events with Tick
// before sending, and fold received timestamps in with Observe.
package clock

import "sync"

// Lamport is a scalar logical clock. Each Tick and Observe returns a value
// strictly greater than every value previously returned or observed.
type Lamport struct {
	mu      sync.Mutex
	counter uint64
}

// NewLamport creates a Lamport clock starting at zero.
func NewLamport() *Lamport {
	return &Lamport{}
}

// Tick advances the clock for a local event and returns the new value.
func (l *Lamport) Tick() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.counter++
	return l.counter
}

// Observe merges a timestamp received from a remote node:
// local = max(local, remote) + 1. It returns the merged value.
func (l *Lamport) Observe(remote uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if remote > l.counter {
		l.counter = remote
	}
	l.counter++
	return l.counter
}

// Now returns the current value without advancing the clock.
func (l *Lamport) Now() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.counter
}
