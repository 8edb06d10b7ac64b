package detector_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/accord/detector"
	"github.com/xraph/accord/ext"
	"github.com/xraph/accord/id"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// lifecycle records membership hook calls.
type lifecycle struct {
	mu        sync.Mutex
	suspected []string
	failed    []string
	evicted   []string
	recovered []string
}

func (l *lifecycle) Name() string { return "lifecycle-recorder" }

func (l *lifecycle) OnNodeSuspected(_ context.Context, n id.NodeID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.suspected = append(l.suspected, n.String())
	return nil
}

func (l *lifecycle) OnNodeFailed(_ context.Context, n id.NodeID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, n.String())
	return nil
}

func (l *lifecycle) OnNodeEvicted(_ context.Context, n id.NodeID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evicted = append(l.evicted, n.String())
	return nil
}

func (l *lifecycle) OnNodeRecovered(_ context.Context, n id.NodeID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recovered = append(l.recovered, n.String())
	return nil
}

func newDetector(t *testing.T, clk *fakeClock, hooks *ext.Registry) *detector.Detector {
	t.Helper()
	opts := []detector.Option{detector.WithClock(clk)}
	if hooks != nil {
		opts = append(opts, detector.WithHooks(hooks))
	}
	d, err := detector.New(time.Second, 3*time.Second, 30*time.Second, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestNew_ValidatesTimeoutOrdering(t *testing.T) {
	tests := []struct {
		name                 string
		suspect, dead, evict time.Duration
		wantErr              bool
	}{
		{"valid", time.Second, 3 * time.Second, 30 * time.Second, false},
		{"eviction equals dead", time.Second, 3 * time.Second, 3 * time.Second, false},
		{"zero suspect", 0, 3 * time.Second, 30 * time.Second, true},
		{"dead not above suspect", time.Second, time.Second, 30 * time.Second, true},
		{"eviction below dead", time.Second, 3 * time.Second, 2 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := detector.New(tt.suspect, tt.dead, tt.evict)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%v, %v, %v) error = %v, wantErr %v",
					tt.suspect, tt.dead, tt.evict, err, tt.wantErr)
			}
		})
	}
}

func TestStatus_UnknownForUnseenNode(t *testing.T) {
	d := newDetector(t, newFakeClock(), nil)

	if got := d.Status(id.NewNodeID()); got != detector.StatusUnknown {
		t.Errorf("Status(unseen) = %v, want unknown", got)
	}
}

// Status must pass through Alive → Suspected → Failed strictly in that
// order as time advances past each timeout.
func TestStatus_DegradesWithSilence(t *testing.T) {
	clk := newFakeClock()
	d := newDetector(t, clk, nil)
	n := id.NewNodeID()

	d.Heartbeat(n)
	if got := d.Status(n); got != detector.StatusAlive {
		t.Fatalf("Status after heartbeat = %v, want alive", got)
	}

	clk.Advance(999 * time.Millisecond)
	if got := d.Status(n); got != detector.StatusAlive {
		t.Errorf("Status within suspect timeout = %v, want alive", got)
	}

	clk.Advance(2 * time.Millisecond) // past 1s suspect timeout
	if got := d.Status(n); got != detector.StatusSuspected {
		t.Errorf("Status past suspect timeout = %v, want suspected", got)
	}

	clk.Advance(2 * time.Second) // past 3s dead timeout
	if got := d.Status(n); got != detector.StatusFailed {
		t.Errorf("Status past dead timeout = %v, want failed", got)
	}
}

func TestHeartbeat_ResetsFromAnyState(t *testing.T) {
	clk := newFakeClock()
	d := newDetector(t, clk, nil)
	n := id.NewNodeID()

	d.Heartbeat(n)
	clk.Advance(10 * time.Second) // well past dead timeout
	if got := d.Status(n); got != detector.StatusFailed {
		t.Fatalf("Status = %v, want failed", got)
	}

	d.Heartbeat(n)
	if got := d.Status(n); got != detector.StatusAlive {
		t.Errorf("Status after revival heartbeat = %v, want alive", got)
	}
}

func TestAliveNodes_SnapshotsOnlyAlive(t *testing.T) {
	clk := newFakeClock()
	d := newDetector(t, clk, nil)

	stale := id.NewNodeID()
	fresh := id.NewNodeID()

	d.Heartbeat(stale)
	clk.Advance(2 * time.Second) // stale is now suspected
	d.Heartbeat(fresh)

	alive := d.AliveNodes()
	if len(alive) != 1 || alive[0].String() != fresh.String() {
		t.Errorf("AliveNodes() = %v, want only %s", alive, fresh)
	}
}

func TestSweep_EvictsSilentNodes(t *testing.T) {
	clk := newFakeClock()
	hooks := ext.NewRegistry(nil)
	rec := &lifecycle{}
	hooks.Register(rec)
	d := newDetector(t, clk, hooks)

	n := id.NewNodeID()
	d.Heartbeat(n)

	clk.Advance(29 * time.Second)
	d.Sweep()
	if got := d.Status(n); got == detector.StatusUnknown {
		t.Fatal("node evicted before eviction window elapsed")
	}

	clk.Advance(2 * time.Second) // past 30s eviction window
	d.Sweep()
	if got := d.Status(n); got != detector.StatusUnknown {
		t.Errorf("Status after eviction = %v, want unknown", got)
	}
	if len(rec.evicted) != 1 || rec.evicted[0] != n.String() {
		t.Errorf("evicted hooks = %v, want [%s]", rec.evicted, n)
	}

	// Eviction is not terminal for the node: a later heartbeat re-creates
	// the record.
	d.Heartbeat(n)
	if got := d.Status(n); got != detector.StatusAlive {
		t.Errorf("Status after post-eviction heartbeat = %v, want alive", got)
	}
}

func TestSweep_EmitsTransitionsInOrder(t *testing.T) {
	clk := newFakeClock()
	hooks := ext.NewRegistry(nil)
	rec := &lifecycle{}
	hooks.Register(rec)
	d := newDetector(t, clk, hooks)

	n := id.NewNodeID()
	d.Heartbeat(n)

	clk.Advance(1500 * time.Millisecond)
	d.Sweep()
	if len(rec.suspected) != 1 {
		t.Fatalf("suspected hooks after first sweep = %v, want one", rec.suspected)
	}

	d.Sweep() // no change; must not re-emit
	if len(rec.suspected) != 1 {
		t.Errorf("suspected re-emitted on idle sweep: %v", rec.suspected)
	}

	clk.Advance(2 * time.Second)
	d.Sweep()
	if len(rec.failed) != 1 {
		t.Errorf("failed hooks = %v, want one", rec.failed)
	}

	d.Heartbeat(n)
	if len(rec.recovered) != 1 {
		t.Errorf("recovered hooks = %v, want one", rec.recovered)
	}
}

// A node can skip from Alive past both timeouts between two sweeps; the
// detector still reports the Suspected transition before Failed.
func TestSweep_ReportsIntermediateSuspected(t *testing.T) {
	clk := newFakeClock()
	hooks := ext.NewRegistry(nil)
	rec := &lifecycle{}
	hooks.Register(rec)
	d := newDetector(t, clk, hooks)

	n := id.NewNodeID()
	d.Heartbeat(n)

	clk.Advance(10 * time.Second) // past dead timeout in one jump
	d.Sweep()

	if len(rec.suspected) != 1 {
		t.Errorf("suspected hooks = %v, want intermediate transition", rec.suspected)
	}
	if len(rec.failed) != 1 {
		t.Errorf("failed hooks = %v, want one", rec.failed)
	}
}

func TestHeartbeat_Idempotent(t *testing.T) {
	clk := newFakeClock()
	d := newDetector(t, clk, nil)
	n := id.NewNodeID()

	for range 5 {
		d.Heartbeat(n)
	}
	if got := len(d.Records()); got != 1 {
		t.Errorf("Records() length = %d after repeated heartbeats, want 1", got)
	}
}
