package clock

import (
	"maps"
	"sync"

	"github.com/xraph/accord/id"
)

// Ordering is the result of comparing two vector versions.
type Ordering int

const (
	// Before means a happened-before b.
	Before Ordering = iota
	// After means b happened-before a.
	After
	// Concurrent means neither version dominates the other.
	Concurrent
	// Equal means the versions are identical componentwise.
	Equal
)

// String returns the ordering name.
func (o Ordering) String() string {
	switch o {
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	case Equal:
		return "equal"
	default:
		return "unknown"
	}
}

// Version is an immutable snapshot of a vector clock, keyed by the string
// form of the owning node's ID. Callers never mutate a returned Version;
// all mutation goes through the Vector that produced it.
type Version map[string]uint64

// clone returns a defensive copy.
func (v Version) clone() Version {
	cp := make(Version, len(v))
	maps.Copy(cp, v)
	return cp
}

// Compare returns the partial order between two versions: Before if a ≤ b
// componentwise with at least one strict <, After symmetrically, Equal if
// identical, and Concurrent otherwise. Missing components are zero.
func Compare(a, b Version) Ordering {
	aLess, bLess := false, false

	for k, av := range a {
		bv := b[k]
		switch {
		case av < bv:
			aLess = true
		case av > bv:
			bLess = true
		}
	}
	for k, bv := range b {
		if _, ok := a[k]; ok {
			continue // already compared above
		}
		if bv > 0 {
			aLess = true
		}
	}

	switch {
	case aLess && bLess:
		return Concurrent
	case aLess:
		return Before
	case bLess:
		return After
	default:
		return Equal
	}
}

// Vector is a vector clock owned by a single node. Tick advances the local
// component; Observe folds in a remote version (componentwise max) and then
// advances the local component, per the standard receive rule.
type Vector struct {
	mu      sync.Mutex
	self    string
	entries Version
}

// NewVector creates a vector clock owned by the given node.
func NewVector(self id.NodeID) *Vector {
	return &Vector{
		self:    self.String(),
		entries: make(Version),
	}
}

// Tick advances the local component and returns a snapshot of the new state.
func (v *Vector) Tick() Version {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.entries[v.self]++
	return v.entries.clone()
}

// Observe merges a remote version into local state — componentwise max,
// then increment the own component — and returns the merged snapshot.
func (v *Vector) Observe(remote Version) Version {
	v.mu.Lock()
	defer v.mu.Unlock()

	for k, rv := range remote {
		if rv > v.entries[k] {
			v.entries[k] = rv
		}
	}
	v.entries[v.self]++
	return v.entries.clone()
}

// Now returns a snapshot of the current state without advancing the clock.
func (v *Vector) Now() Version {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.entries.clone()
}
