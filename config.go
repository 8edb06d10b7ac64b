package accord

import "time"

// Config holds configuration for the Coordinator.
type Config struct {
	// SuspectTimeout is how long a node may go without a heartbeat before
	// it is reported Suspected.
	SuspectTimeout time.Duration

	// DeadTimeout is how long a node may go without a heartbeat before it
	// is reported Failed. Must be greater than SuspectTimeout.
	DeadTimeout time.Duration

	// EvictionWindow is how long a node may go without any contact before
	// its heartbeat record is evicted. Must be at least DeadTimeout.
	EvictionWindow time.Duration

	// SweepInterval is how often the failure detector sweeps for evictions.
	SweepInterval time.Duration

	// ElectionTimeoutMin and ElectionTimeoutMax bound the randomized
	// election timeout. A fresh timeout is drawn from this range every time
	// the timer is reset, so repeated split votes eventually diverge.
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration

	// HeartbeatInterval is how often a leader sends AppendEntries
	// heartbeats to followers. Must be well below ElectionTimeoutMin.
	HeartbeatInterval time.Duration

	// RPCTimeout is the per-call timeout for outbound peer RPCs.
	RPCTimeout time.Duration

	// ReplicaCount is the number of virtual replicas per physical node on
	// the consistent hash ring.
	ReplicaCount int

	// Breaker settings applied to every peer client.
	BreakerFailureThresholdPct float64
	BreakerRequestThreshold    int
	BreakerRecoveryTimeout     time.Duration
	BreakerSuccessThreshold    int
}

// DefaultConfig returns a Config with sensible defaults. The election
// timeout range matches the classic Raft paper values.
func DefaultConfig() Config {
	return Config{
		SuspectTimeout:             1 * time.Second,
		DeadTimeout:                3 * time.Second,
		EvictionWindow:             30 * time.Second,
		SweepInterval:              1 * time.Second,
		ElectionTimeoutMin:         150 * time.Millisecond,
		ElectionTimeoutMax:         300 * time.Millisecond,
		HeartbeatInterval:          50 * time.Millisecond,
		RPCTimeout:                 100 * time.Millisecond,
		ReplicaCount:               128,
		BreakerFailureThresholdPct: 0.5,
		BreakerRequestThreshold:    10,
		BreakerRecoveryTimeout:     5 * time.Second,
		BreakerSuccessThreshold:    2,
	}
}
