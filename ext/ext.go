package ext

import (
	"context"

	"github.com/xraph/accord/id"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Consensus lifecycle hooks
// ──────────────────────────────────────────────────

// LeaderElected is called when the local node wins an election.
type LeaderElected interface {
	OnLeaderElected(ctx context.Context, nodeID id.NodeID, term uint64) error
}

// LeaderStepDown is called when the local node leaves the Leader or
// Candidate role. Reason names the trigger (e.g., "higher term observed").
type LeaderStepDown interface {
	OnLeaderStepDown(ctx context.Context, nodeID id.NodeID, term uint64, reason string) error
}

// TermAdvanced is called whenever the local term moves forward.
type TermAdvanced interface {
	OnTermAdvanced(ctx context.Context, term uint64) error
}

// ──────────────────────────────────────────────────
// Membership lifecycle hooks
// ──────────────────────────────────────────────────

// NodeSuspected is called when a node misses heartbeats past the suspect
// timeout.
type NodeSuspected interface {
	OnNodeSuspected(ctx context.Context, nodeID id.NodeID) error
}

// NodeFailed is called when a node misses heartbeats past the dead timeout.
type NodeFailed interface {
	OnNodeFailed(ctx context.Context, nodeID id.NodeID) error
}

// NodeRecovered is called when a suspected or failed node heartbeats again.
type NodeRecovered interface {
	OnNodeRecovered(ctx context.Context, nodeID id.NodeID) error
}

// NodeEvicted is called when a node's heartbeat record is removed after the
// eviction window with no contact.
type NodeEvicted interface {
	OnNodeEvicted(ctx context.Context, nodeID id.NodeID) error
}

// MembershipChanged is called when the set of nodes participating in key
// ownership changes. members is the full post-change set.
type MembershipChanged interface {
	OnMembershipChanged(ctx context.Context, members []id.NodeID) error
}

// ──────────────────────────────────────────────────
// Other hooks
// ──────────────────────────────────────────────────

// CircuitStateChanged is called when a peer circuit breaker transitions.
// States are the breaker package's string forms ("closed", "open",
// "half-open").
type CircuitStateChanged interface {
	OnCircuitStateChanged(ctx context.Context, name, from, to string) error
}

// Shutdown is called when the coordinator is shutting down gracefully.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
