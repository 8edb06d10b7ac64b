// Package store defines the persistence contract for accord. Consensus
// hard state and cluster membership each define their own store interface;
// the composite Store composes them. Backends: Memory, Redis, and Bun
// (PostgreSQL).
//
// Hard state must survive process restart — a node that forgot its term or
// vote could vote twice in one term and elect two leaders. Everything else
// (heartbeat records, ring layout) is rebuilt from live traffic on restart.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/accord/id"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")
)

// HardState is the durable consensus state of one node: the highest term
// it has seen and the candidate it voted for in that term (empty string if
// none). Persisted before any vote or term change becomes externally
// visible.
type HardState struct {
	Term     uint64 `json:"term"`
	VotedFor string `json:"voted_for"`
}

// Member is a durable membership seed record. A restarted node reloads the
// member list to know which peers to contact before any heartbeats arrive.
type Member struct {
	NodeID   id.NodeID `json:"node_id"`
	Address  string    `json:"address"`
	JoinedAt time.Time `json:"joined_at"`
}

// HardStateStore persists consensus hard state, keyed by node.
type HardStateStore interface {
	// SaveHardState durably records the node's term and vote.
	SaveHardState(ctx context.Context, nodeID id.NodeID, hs HardState) error

	// LoadHardState returns the node's persisted state, or ErrNotFound if
	// the node has never persisted one.
	LoadHardState(ctx context.Context, nodeID id.NodeID) (HardState, error)
}

// MembershipStore persists the cluster membership seed list.
type MembershipStore interface {
	// PutMember upserts a membership record.
	PutMember(ctx context.Context, m *Member) error

	// RemoveMember deletes a membership record. Removing an absent member
	// is not an error.
	RemoveMember(ctx context.Context, nodeID id.NodeID) error

	// ListMembers returns all membership records sorted by node ID.
	ListMembers(ctx context.Context) ([]*Member, error)
}

// Store is the aggregate persistence interface. A single backend
// implements all subsystem stores.
type Store interface {
	HardStateStore
	MembershipStore

	// Migrate runs schema migrations where the backend has a schema.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
