// Package ring implements a consistent hash ring with virtual replicas.
//
// Each physical node occupies ReplicaCount positions on a 64-bit hash
// ring; a key is owned by the first entry at or after hash(key), wrapping
// around. Adding or removing one node relocates only the keys that mapped
// to that node's segments — an expected 1/N of keys for N nodes — which is
// the property that motivates consistent hashing over modulo hashing.
package ring

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/xraph/accord/id"
)

var (
	// ErrNoNodes is returned when the ring is empty.
	ErrNoNodes = errors.New("ring: no nodes available")

	// ErrInsufficientReplicas is returned when more distinct owners are
	// requested than the ring has physical nodes.
	ErrInsufficientReplicas = errors.New("ring: fewer nodes than requested replicas")
)

// DefaultReplicaCount is the default number of virtual replicas per
// physical node. Higher counts smooth load distribution at the cost of
// ring size and rebuild time.
const DefaultReplicaCount = 128

// Entry is one virtual replica position on the ring.
type Entry struct {
	Position     uint64
	NodeID       id.NodeID
	ReplicaIndex int
}

// Ring is a consistent hash ring. Safe for concurrent use; lookups take a
// read lock, membership changes take the write lock.
type Ring struct {
	mu       sync.RWMutex
	entries  []Entry // sorted by Position
	nodes    map[string]id.NodeID
	replicas int
}

// Option configures a Ring.
type Option func(*Ring)

// WithReplicaCount sets the number of virtual replicas per physical node.
func WithReplicaCount(n int) Option {
	return func(r *Ring) {
		if n > 0 {
			r.replicas = n
		}
	}
}

// New creates an empty ring.
func New(opts ...Option) *Ring {
	r := &Ring{
		nodes:    make(map[string]id.NodeID),
		replicas: DefaultReplicaCount,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// hashKey maps an arbitrary key to a ring position using 64-bit FNV-1a.
func hashKey(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key)) //nolint:errcheck // fnv Write never fails
	return h.Sum64()
}

// AddNode inserts the node's virtual replica entries. Adding a node that is
// already present is a no-op, so retried membership-change messages are
// harmless.
func (r *Ring) AddNode(nodeID id.NodeID) {
	key := nodeID.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[key]; ok {
		return
	}
	r.nodes[key] = nodeID

	for i := range r.replicas {
		r.entries = append(r.entries, Entry{
			Position:     hashKey(fmt.Sprintf("%s:%d", key, i)),
			NodeID:       nodeID,
			ReplicaIndex: i,
		})
	}
	sort.Slice(r.entries, func(i, j int) bool { return r.entries[i].Position < r.entries[j].Position })
}

// RemoveNode removes exactly the node's virtual replica entries. Removing
// an absent node is a no-op.
func (r *Ring) RemoveNode(nodeID id.NodeID) {
	key := nodeID.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[key]; !ok {
		return
	}
	delete(r.nodes, key)

	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.NodeID.String() != key {
			kept = append(kept, e)
		}
	}
	r.entries = kept
}

// Owner returns the node owning the given key: the first ring entry at or
// after hash(key), wrapping to the first entry when none follows.
func (r *Ring) Owner(key string) (id.NodeID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return id.Nil, ErrNoNodes
	}
	return r.entries[r.searchLocked(hashKey(key))].NodeID, nil
}

// Owners walks forward from the key's owning entry collecting up to n
// distinct physical nodes, skipping further virtual replicas of nodes
// already selected. Use it to pick a replication set for a key.
func (r *Ring) Owners(key string, n int) ([]id.NodeID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return nil, ErrNoNodes
	}
	if n > len(r.nodes) {
		return nil, fmt.Errorf("%w: want %d, have %d", ErrInsufficientReplicas, n, len(r.nodes))
	}

	owners := make([]id.NodeID, 0, n)
	seen := make(map[string]bool, n)

	start := r.searchLocked(hashKey(key))
	for i := 0; len(owners) < n; i++ {
		e := r.entries[(start+i)%len(r.entries)]
		k := e.NodeID.String()
		if seen[k] {
			continue
		}
		seen[k] = true
		owners = append(owners, e.NodeID)
	}
	return owners, nil
}

// searchLocked binary-searches for the first entry at or after pos,
// wrapping to index 0. Caller holds at least the read lock.
func (r *Ring) searchLocked(pos uint64) int {
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].Position >= pos })
	if i == len(r.entries) {
		return 0
	}
	return i
}

// Nodes returns a sorted snapshot of the physical node IDs on the ring.
func (r *Ring) Nodes() []id.NodeID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.nodes))
	for k := range r.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]id.NodeID, len(keys))
	for i, k := range keys {
		out[i] = r.nodes[k]
	}
	return out
}

// Len returns the number of virtual replica entries on the ring.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
