// Package ext defines the extension system for accord.
//
// Extensions are notified of coordination lifecycle events and can react to
// them — recording metrics, publishing membership changes, writing audit
// logs, etc. Each lifecycle hook is a separate interface so extensions opt
// in only to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnLeaderElected(ctx context.Context, nodeID id.NodeID, term uint64) error {
//	    log.Printf("node %s leads term %d", nodeID, term)
//	    return nil
//	}
//
// # Consensus Hooks
//
//   - [LeaderElected] — a node won an election and became leader
//   - [LeaderStepDown] — a leader or candidate stepped down to follower
//   - [TermAdvanced] — the local term moved forward
//
// # Membership Hooks
//
//   - [NodeSuspected] — a node missed heartbeats past the suspect timeout
//   - [NodeFailed] — a node missed heartbeats past the dead timeout
//   - [NodeRecovered] — a suspected or failed node heartbeated again
//   - [NodeEvicted] — a silent node's record was removed entirely
//
// # Other Hooks
//
//   - [CircuitStateChanged] — a peer circuit breaker changed state
//   - [Shutdown] — the coordinator is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
