// Package redis provides a Redis-backed implementation of store.Store.
//
// Layout (the {cluster} segment appears when WithCluster is set, letting
// several clusters share one Redis):
//   - accord:{cluster}:hardstate:{node}  Hash — term, voted_for
//   - accord:{cluster}:member:{node}     Hash — node_id, address, joined_at
//   - accord:{cluster}:member_ids        Set  — index of member node IDs
//
// The caller owns the *redis.Client lifecycle; Close here is a no-op on
// the connection and only marks the store closed.
package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/accord/id"
	"github.com/xraph/accord/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

const defaultKeyPrefix = "accord:"

// Store is a Redis implementation of store.Store.
type Store struct {
	client *goredis.Client
	prefix string
	closed atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithCluster scopes every key to one cluster, so several clusters can
// share a Redis instance without colliding.
func WithCluster(cluster id.ClusterID) Option {
	return func(s *Store) { s.prefix = defaultKeyPrefix + cluster.String() + ":" }
}

// New creates a Redis store on an existing client. The caller owns the
// client lifecycle.
func New(client *goredis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) hardStateKey(nodeID string) string { return s.prefix + "hardstate:" + nodeID }
func (s *Store) memberKey(nodeID string) string    { return s.prefix + "member:" + nodeID }
func (s *Store) memberIDsKey() string              { return s.prefix + "member_ids" }

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op: Redis has no schema.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("accord/redis: ping: %w", err)
	}
	return nil
}

// Close marks the store closed. The client is caller-owned and stays open.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

// ──────────────────────────────────────────────────
// Hard state
// ──────────────────────────────────────────────────

// SaveHardState records the node's term and vote as a Hash.
func (s *Store) SaveHardState(ctx context.Context, nodeID id.NodeID, hs store.HardState) error {
	if s.closed.Load() {
		return store.ErrClosed
	}

	err := s.client.HSet(ctx, s.hardStateKey(nodeID.String()),
		"term", strconv.FormatUint(hs.Term, 10),
		"voted_for", hs.VotedFor,
	).Err()
	if err != nil {
		return fmt.Errorf("accord/redis: save hard state: %w", err)
	}
	return nil
}

// LoadHardState returns the node's persisted state.
func (s *Store) LoadHardState(ctx context.Context, nodeID id.NodeID) (store.HardState, error) {
	if s.closed.Load() {
		return store.HardState{}, store.ErrClosed
	}

	fields, err := s.client.HGetAll(ctx, s.hardStateKey(nodeID.String())).Result()
	if err != nil {
		return store.HardState{}, fmt.Errorf("accord/redis: load hard state: %w", err)
	}
	if len(fields) == 0 {
		return store.HardState{}, store.ErrNotFound
	}

	term, err := strconv.ParseUint(fields["term"], 10, 64)
	if err != nil {
		return store.HardState{}, fmt.Errorf("accord/redis: parse term %q: %w", fields["term"], err)
	}
	return store.HardState{Term: term, VotedFor: fields["voted_for"]}, nil
}

// ──────────────────────────────────────────────────
// Membership
// ──────────────────────────────────────────────────

// PutMember upserts a membership record and its index entry atomically.
func (s *Store) PutMember(ctx context.Context, m *store.Member) error {
	if s.closed.Load() {
		return store.ErrClosed
	}

	nodeID := m.NodeID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.memberKey(nodeID),
		"node_id", nodeID,
		"address", m.Address,
		"joined_at", m.JoinedAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.SAdd(ctx, s.memberIDsKey(), nodeID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("accord/redis: put member: %w", err)
	}
	return nil
}

// RemoveMember deletes a membership record and its index entry.
func (s *Store) RemoveMember(ctx context.Context, nodeID id.NodeID) error {
	if s.closed.Load() {
		return store.ErrClosed
	}

	key := nodeID.String()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.memberKey(key))
	pipe.SRem(ctx, s.memberIDsKey(), key)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("accord/redis: remove member: %w", err)
	}
	return nil
}

// ListMembers returns all membership records sorted by node ID.
func (s *Store) ListMembers(ctx context.Context) ([]*store.Member, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}

	ids, err := s.client.SMembers(ctx, s.memberIDsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("accord/redis: list member ids: %w", err)
	}
	sort.Strings(ids)

	members := make([]*store.Member, 0, len(ids))
	for _, nodeID := range ids {
		fields, getErr := s.client.HGetAll(ctx, s.memberKey(nodeID)).Result()
		if getErr != nil {
			return nil, fmt.Errorf("accord/redis: get member %s: %w", nodeID, getErr)
		}
		if len(fields) == 0 {
			continue // index raced ahead of a removal
		}

		m, convErr := memberFromFields(fields)
		if convErr != nil {
			return nil, convErr
		}
		members = append(members, m)
	}
	return members, nil
}

// memberFromFields converts a Redis hash to a Member.
func memberFromFields(fields map[string]string) (*store.Member, error) {
	nodeID, err := id.ParseNodeID(fields["node_id"])
	if err != nil {
		return nil, fmt.Errorf("accord/redis: parse member node id: %w", err)
	}

	joinedAt, _ := time.Parse(time.RFC3339Nano, fields["joined_at"]) //nolint:errcheck // best-effort parse

	return &store.Member{
		NodeID:   nodeID,
		Address:  fields["address"],
		JoinedAt: joinedAt,
	}, nil
}
