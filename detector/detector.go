package detector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xraph/accord/ext"
	"github.com/xraph/accord/id"
)

// Clock supplies the current time. Inject a fake in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Status is the derived liveness state of a peer.
type Status int

const (
	// StatusUnknown means the detector has never seen the node.
	StatusUnknown Status = iota
	// StatusAlive means a heartbeat arrived within the suspect timeout.
	StatusAlive
	// StatusSuspected means the suspect timeout elapsed with no heartbeat.
	StatusSuspected
	// StatusFailed means the dead timeout elapsed with no heartbeat.
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusAlive:
		return "alive"
	case StatusSuspected:
		return "suspected"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Record is a snapshot of one peer's heartbeat state.
type Record struct {
	NodeID   id.NodeID `json:"node_id"`
	LastSeen time.Time `json:"last_seen"`
	Status   Status    `json:"status"`
}

// record is the internally owned, mutable form. lastStatus remembers the
// last status reported through hooks so transitions fire exactly once.
type record struct {
	lastSeen   time.Time
	lastStatus Status
}

// Detector tracks peer liveness from heartbeats. Safe for concurrent use.
type Detector struct {
	mu      sync.Mutex
	records map[string]*record

	suspectTimeout time.Duration
	deadTimeout    time.Duration
	evictionWindow time.Duration

	clock  Clock
	hooks  *ext.Registry
	logger *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock sets the time source. Defaults to the system clock.
func WithClock(c Clock) Option {
	return func(d *Detector) { d.clock = c }
}

// WithHooks sets the extension registry notified of status transitions.
func WithHooks(r *ext.Registry) Option {
	return func(d *Detector) { d.hooks = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// New creates a Detector. suspectTimeout must be positive, deadTimeout must
// exceed suspectTimeout, and evictionWindow must be at least deadTimeout.
func New(suspectTimeout, deadTimeout, evictionWindow time.Duration, opts ...Option) (*Detector, error) {
	if suspectTimeout <= 0 {
		return nil, fmt.Errorf("detector: suspect timeout %v must be positive", suspectTimeout)
	}
	if deadTimeout <= suspectTimeout {
		return nil, fmt.Errorf("detector: dead timeout %v must exceed suspect timeout %v", deadTimeout, suspectTimeout)
	}
	if evictionWindow < deadTimeout {
		return nil, fmt.Errorf("detector: eviction window %v must be at least dead timeout %v", evictionWindow, deadTimeout)
	}

	d := &Detector{
		records:        make(map[string]*record),
		suspectTimeout: suspectTimeout,
		deadTimeout:    deadTimeout,
		evictionWindow: evictionWindow,
		clock:          SystemClock{},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Heartbeat records contact from a node and forces its status to Alive.
// Idempotent under repeated calls. A heartbeat from any state — including a
// previously Failed node — restores Alive; only eviction is terminal, and
// even then a later heartbeat simply re-creates the record.
func (d *Detector) Heartbeat(nodeID id.NodeID) {
	now := d.clock.Now()

	d.mu.Lock()
	key := nodeID.String()
	r, ok := d.records[key]
	if !ok {
		d.records[key] = &record{lastSeen: now, lastStatus: StatusAlive}
		d.mu.Unlock()
		return
	}

	recovered := r.lastStatus == StatusSuspected || r.lastStatus == StatusFailed
	r.lastSeen = now
	r.lastStatus = StatusAlive
	d.mu.Unlock()

	if recovered && d.hooks != nil {
		d.hooks.EmitNodeRecovered(context.Background(), nodeID)
	}
}

// Status derives the node's current liveness from its record and the
// current time. Pure function of stored state and the clock; never blocks.
func (d *Detector) Status(nodeID id.NodeID) Status {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.records[nodeID.String()]
	if !ok {
		return StatusUnknown
	}
	return d.statusAt(r, now)
}

// statusAt computes status for a record at the given instant.
// Caller holds d.mu.
func (d *Detector) statusAt(r *record, now time.Time) Status {
	silence := now.Sub(r.lastSeen)
	switch {
	case silence > d.deadTimeout:
		return StatusFailed
	case silence > d.suspectTimeout:
		return StatusSuspected
	default:
		return StatusAlive
	}
}

// AliveNodes returns a sorted snapshot of all nodes currently Alive.
// Callers must not mutate coordination state through the snapshot; it is a
// copy.
func (d *Detector) AliveNodes() []id.NodeID {
	now := d.clock.Now()

	d.mu.Lock()
	keys := make([]string, 0, len(d.records))
	for key, r := range d.records {
		if d.statusAt(r, now) == StatusAlive {
			keys = append(keys, key)
		}
	}
	d.mu.Unlock()

	sort.Strings(keys)
	nodes := make([]id.NodeID, 0, len(keys))
	for _, key := range keys {
		nodeID, err := id.Parse(key)
		if err != nil {
			continue // key was produced by a valid ID; cannot happen
		}
		nodes = append(nodes, nodeID)
	}
	return nodes
}

// Records returns a snapshot of all known heartbeat records with derived
// statuses, sorted by node ID.
func (d *Detector) Records() []Record {
	now := d.clock.Now()

	d.mu.Lock()
	out := make([]Record, 0, len(d.records))
	for key, r := range d.records {
		nodeID, err := id.Parse(key)
		if err != nil {
			continue
		}
		out = append(out, Record{
			NodeID:   nodeID,
			LastSeen: r.lastSeen,
			Status:   d.statusAt(r, now),
		})
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].NodeID.String() < out[j].NodeID.String() })
	return out
}

// transition pairs a node with the status it moved to during a sweep.
type transition struct {
	nodeID id.NodeID
	status Status
}

// Sweep performs periodic maintenance: it evicts records silent for at
// least the eviction window and emits hook notifications for status
// transitions observed since the last report. Call it on a timer.
func (d *Detector) Sweep() {
	now := d.clock.Now()

	var suspected, failed, evicted []transition

	d.mu.Lock()
	for key, r := range d.records {
		nodeID, err := id.Parse(key)
		if err != nil {
			continue
		}

		if now.Sub(r.lastSeen) >= d.evictionWindow {
			delete(d.records, key)
			evicted = append(evicted, transition{nodeID, StatusFailed})
			continue
		}

		status := d.statusAt(r, now)
		if status == r.lastStatus {
			continue
		}
		// A record can jump Alive → Failed between sweeps; report the
		// intermediate Suspected transition too so consumers see the
		// strict Alive → Suspected → Failed order.
		if status == StatusFailed && r.lastStatus == StatusAlive {
			suspected = append(suspected, transition{nodeID, StatusSuspected})
		}
		switch status {
		case StatusSuspected:
			suspected = append(suspected, transition{nodeID, status})
		case StatusFailed:
			failed = append(failed, transition{nodeID, status})
		}
		r.lastStatus = status
	}
	d.mu.Unlock()

	if d.hooks != nil {
		ctx := context.Background()
		for _, tr := range suspected {
			d.hooks.EmitNodeSuspected(ctx, tr.nodeID)
		}
		for _, tr := range failed {
			d.hooks.EmitNodeFailed(ctx, tr.nodeID)
		}
		for _, tr := range evicted {
			d.hooks.EmitNodeEvicted(ctx, tr.nodeID)
		}
	}
	d.logSweep(transitionIDs(suspected), transitionIDs(failed), transitionIDs(evicted))
}

func transitionIDs(trs []transition) []string {
	if len(trs) == 0 {
		return nil
	}
	out := make([]string, len(trs))
	for i, tr := range trs {
		out[i] = tr.nodeID.String()
	}
	return out
}

func (d *Detector) logSweep(suspected, failed, evicted []string) {
	if len(suspected) == 0 && len(failed) == 0 && len(evicted) == 0 {
		return
	}
	d.logger.Info("detector sweep",
		slog.Any("suspected", suspected),
		slog.Any("failed", failed),
		slog.Any("evicted", evicted),
	)
}
