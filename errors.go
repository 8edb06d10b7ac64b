package accord

import (
	"errors"

	"github.com/xraph/accord/breaker"
	"github.com/xraph/accord/consensus"
	"github.com/xraph/accord/ring"
)

// Wiring errors.
var (
	ErrNoStore     = errors.New("accord: no store configured")
	ErrNoTransport = errors.New("accord: no transport configured")
	ErrNoSelf      = errors.New("accord: no self node configured")
	ErrStopped     = errors.New("accord: coordinator stopped")

	// ErrNodeNotFound is returned when a membership lookup misses.
	ErrNodeNotFound = errors.New("accord: node not found")
)

// Subsystem sentinels re-exported at the API surface, so callers can match
// with errors.Is against the root package alone.
var (
	ErrNotLeader      = consensus.ErrNotLeader
	ErrNoLeader       = consensus.ErrNoLeader
	ErrLeadershipLost = consensus.ErrLeadershipLost
	ErrNoQuorum       = consensus.ErrNoQuorum
	ErrElectionFailed = consensus.ErrElectionFailed

	ErrNoNodes              = ring.ErrNoNodes
	ErrInsufficientReplicas = ring.ErrInsufficientReplicas

	ErrCircuitOpen = breaker.ErrCircuitOpen
)
