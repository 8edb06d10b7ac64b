// Package accord provides a composable cluster coordination core for Go:
// membership via heartbeat failure detection, Raft-style leader election,
// logical clocks for causal ordering, consistent hashing for key ownership,
// and circuit breakers for peer calls.
//
// Accord is designed as a library, not a service. Import it, configure a
// store and a transport, and start a Coordinator.
//
// # Quick Start
//
//	c, err := accord.New(
//	    accord.WithSelf(self),
//	    accord.WithPeers(peers...),
//	    accord.WithStore(memstore),
//	    accord.WithTransport(tr),
//	)
//
// # Architecture
//
// Accord follows a composable store pattern where each subsystem (consensus
// hard state, membership) defines its own store interface. A single backend
// implements all of them.
//
// All node IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package accord
