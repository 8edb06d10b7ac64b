// Package memory provides a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/xraph/accord/id"
	"github.com/xraph/accord/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store is an in-memory store.Store.
type Store struct {
	mu sync.RWMutex

	hardStates map[string]store.HardState
	members    map[string]*store.Member
	closed     bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		hardStates: make(map[string]store.HardState),
		members:    make(map[string]*store.Member),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is open.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return store.ErrClosed
	}
	return nil
}

// Close marks the store closed.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Hard state
// ──────────────────────────────────────────────────

// SaveHardState records the node's term and vote.
func (m *Store) SaveHardState(_ context.Context, nodeID id.NodeID, hs store.HardState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return store.ErrClosed
	}
	m.hardStates[nodeID.String()] = hs
	return nil
}

// LoadHardState returns the node's persisted state.
func (m *Store) LoadHardState(_ context.Context, nodeID id.NodeID) (store.HardState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return store.HardState{}, store.ErrClosed
	}
	hs, ok := m.hardStates[nodeID.String()]
	if !ok {
		return store.HardState{}, store.ErrNotFound
	}
	return hs, nil
}

// ──────────────────────────────────────────────────
// Membership
// ──────────────────────────────────────────────────

// PutMember upserts a membership record.
func (m *Store) PutMember(_ context.Context, member *store.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return store.ErrClosed
	}
	cp := *member
	m.members[member.NodeID.String()] = &cp
	return nil
}

// RemoveMember deletes a membership record.
func (m *Store) RemoveMember(_ context.Context, nodeID id.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return store.ErrClosed
	}
	delete(m.members, nodeID.String())
	return nil
}

// ListMembers returns all membership records sorted by node ID.
func (m *Store) ListMembers(_ context.Context) ([]*store.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, store.ErrClosed
	}

	keys := make([]string, 0, len(m.members))
	for k := range m.members {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*store.Member, 0, len(keys))
	for _, k := range keys {
		cp := *m.members[k]
		out = append(out, &cp)
	}
	return out, nil
}
