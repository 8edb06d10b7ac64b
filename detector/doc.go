// Package detector implements heartbeat-based failure detection.
//
// A Detector tracks one heartbeat record per known peer and derives a
// liveness status lazily from the record and the current time: Alive until
// the suspect timeout elapses with no heartbeat, then Suspected, then Failed
// after the dead timeout. A periodic Sweep evicts records that have been
// silent for the eviction window.
//
// Detection is inherently probabilistic — a slow-but-alive node looks
// Suspected. Statuses are liveness hints, not ground truth: consumers must
// treat Suspected/Failed as a trigger (e.g., for re-election), never as
// proof of crash. The consensus term/quorum mechanism safely arbitrates
// wrong guesses.
package detector
