package accord_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/accord"
	"github.com/xraph/accord/detector"
	"github.com/xraph/accord/id"
	"github.com/xraph/accord/store/memory"
	transportmem "github.com/xraph/accord/transport/memory"
)

// testConfig compresses every timeout so cluster tests finish quickly.
func testConfig() accord.Config {
	cfg := accord.DefaultConfig()
	cfg.SuspectTimeout = 300 * time.Millisecond
	cfg.DeadTimeout = 900 * time.Millisecond
	cfg.EvictionWindow = 5 * time.Second
	cfg.SweepInterval = 50 * time.Millisecond
	cfg.ElectionTimeoutMin = 100 * time.Millisecond
	cfg.ElectionTimeoutMax = 200 * time.Millisecond
	cfg.HeartbeatInterval = 30 * time.Millisecond
	cfg.RPCTimeout = 60 * time.Millisecond
	cfg.ReplicaCount = 16
	cfg.BreakerRequestThreshold = 4
	cfg.BreakerRecoveryTimeout = 200 * time.Millisecond
	return cfg
}

type testCluster struct {
	ids    []id.NodeID
	coords []*accord.Coordinator
	net    *transportmem.Network
}

func newTestCluster(t *testing.T, size int) *testCluster {
	t.Helper()

	tc := &testCluster{net: transportmem.NewNetwork()}
	for range size {
		tc.ids = append(tc.ids, id.NewNodeID())
	}

	for _, nodeID := range tc.ids {
		c, err := accord.New(
			accord.WithSelf(nodeID),
			accord.WithStore(memory.New()),
			accord.WithTransport(tc.net.Node(nodeID)),
			accord.WithPeers(tc.ids...),
			accord.WithConfig(testConfig()),
		)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		tc.coords = append(tc.coords, c)
	}

	for _, c := range tc.coords {
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for _, c := range tc.coords {
			_ = c.Stop(ctx)
		}
	})
	return tc
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(15 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_RequiredOptions(t *testing.T) {
	net := transportmem.NewNetwork()
	self := id.NewNodeID()

	tests := []struct {
		name    string
		opts    []accord.Option
		wantErr error
	}{
		{
			name:    "missing self",
			opts:    []accord.Option{accord.WithStore(memory.New()), accord.WithTransport(net.Node(self))},
			wantErr: accord.ErrNoSelf,
		},
		{
			name:    "missing store",
			opts:    []accord.Option{accord.WithSelf(self), accord.WithTransport(net.Node(self))},
			wantErr: accord.ErrNoStore,
		},
		{
			name:    "missing transport",
			opts:    []accord.Option{accord.WithSelf(self), accord.WithStore(memory.New())},
			wantErr: accord.ErrNoTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := accord.New(tt.opts...); !errors.Is(err, tt.wantErr) {
				t.Errorf("New = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCoordinator_ElectsLeaderAndAgrees(t *testing.T) {
	tc := newTestCluster(t, 3)
	ctx := context.Background()

	// Every node eventually reports the same leader.
	waitFor(t, 5*time.Second, "cluster-wide leader agreement", func() bool {
		first, err := tc.coords[0].Leader(ctx, accord.Eventual)
		if err != nil {
			return false
		}
		for _, c := range tc.coords[1:] {
			leader, lErr := c.Leader(ctx, accord.Eventual)
			if lErr != nil || leader.String() != first.String() {
				return false
			}
		}
		return true
	})

	leaderID, err := tc.coords[0].Leader(ctx, accord.Eventual)
	if err != nil {
		t.Fatalf("Leader: %v", err)
	}

	// Strong reads succeed only on the leader itself.
	for _, c := range tc.coords {
		got, sErr := c.Leader(ctx, accord.Strong)
		if c.Self().String() == leaderID.String() {
			if sErr != nil {
				t.Errorf("leader Strong read failed: %v", sErr)
			}
			if got.String() != leaderID.String() {
				t.Errorf("leader Strong read = %v, want %v", got, leaderID)
			}
			continue
		}
		if !errors.Is(sErr, accord.ErrNotLeader) {
			t.Errorf("follower Strong read = %v, want ErrNotLeader", sErr)
		}
	}
}

func TestCoordinator_OwnersAgreeAcrossNodes(t *testing.T) {
	tc := newTestCluster(t, 3)
	ctx := context.Background()

	for i := range 20 {
		key := fmt.Sprintf("resource-%d", i)

		first, err := tc.coords[0].Owner(ctx, key, accord.Eventual)
		if err != nil {
			t.Fatalf("Owner: %v", err)
		}
		for _, c := range tc.coords[1:] {
			got, oErr := c.Owner(ctx, key, accord.Eventual)
			if oErr != nil {
				t.Fatalf("Owner: %v", oErr)
			}
			if got.String() != first.String() {
				t.Errorf("key %q: owner %v on node %v, %v on node 0", key, got, c.Self(), first)
			}
		}
	}

	// Replicated placement returns distinct nodes.
	owners, err := tc.coords[0].Owners(ctx, "resource-0", 3, accord.Eventual)
	if err != nil {
		t.Fatalf("Owners: %v", err)
	}
	seen := make(map[string]bool)
	for _, o := range owners {
		if seen[o.String()] {
			t.Errorf("Owners returned duplicate node %v", o)
		}
		seen[o.String()] = true
	}

	if _, err := tc.coords[0].Owners(ctx, "resource-0", 4, accord.Eventual); !errors.Is(err, accord.ErrInsufficientReplicas) {
		t.Errorf("Owners beyond cluster size = %v, want ErrInsufficientReplicas", err)
	}
}

func TestCoordinator_FailedNodeStopsOwningKeys(t *testing.T) {
	tc := newTestCluster(t, 3)
	ctx := context.Background()

	// Isolate the last node; the others must mark it Failed and drop it
	// from their rings.
	victim := tc.ids[2]
	tc.net.Partition([]id.NodeID{victim}, []id.NodeID{tc.ids[0], tc.ids[1]})

	waitFor(t, 5*time.Second, "victim marked failed", func() bool {
		return tc.coords[0].Status(victim) == detector.StatusFailed &&
			tc.coords[1].Status(victim) == detector.StatusFailed
	})

	for i := range 50 {
		key := fmt.Sprintf("resource-%d", i)
		owner, err := tc.coords[0].Owner(ctx, key, accord.Eventual)
		if err != nil {
			t.Fatalf("Owner: %v", err)
		}
		if owner.String() == victim.String() {
			t.Fatalf("key %q still owned by failed node", key)
		}
	}

	// Recovery: heal the partition and the victim's heartbeats put it
	// back on the ring.
	tc.net.Heal()
	waitFor(t, 5*time.Second, "victim back on the ring", func() bool {
		if tc.coords[0].Status(victim) != detector.StatusAlive {
			return false
		}
		for i := range 200 {
			key := fmt.Sprintf("resource-%d", i)
			owner, err := tc.coords[0].Owner(ctx, key, accord.Eventual)
			if err == nil && owner.String() == victim.String() {
				return true
			}
		}
		return false
	})
}

// circuitRecorder captures breaker transitions observed through the hook
// registry.
type circuitRecorder struct {
	mu          sync.Mutex
	transitions []string
}

func (r *circuitRecorder) Name() string { return "test.circuit-recorder" }

func (r *circuitRecorder) OnCircuitStateChanged(_ context.Context, name, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, name+" "+from+" "+to)
	return nil
}

// opened reports whether any breaker whose name starts with prefix has
// transitioned to open.
func (r *circuitRecorder) opened(prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tr := range r.transitions {
		if strings.HasPrefix(tr, prefix) && strings.HasSuffix(tr, " open") {
			return true
		}
	}
	return false
}

func TestCoordinator_GossipBreakerTripsOnDeadPeer(t *testing.T) {
	net := transportmem.NewNetwork()
	self := id.NewNodeID()
	dead := id.NewNodeID() // never joins the network
	rec := &circuitRecorder{}

	c, err := accord.New(
		accord.WithSelf(self),
		accord.WithStore(memory.New()),
		accord.WithTransport(net.Node(self)),
		accord.WithPeers(self, dead),
		accord.WithConfig(testConfig()),
		accord.WithExtensions(rec),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Stop(ctx)
	})

	// Membership heartbeats to the unreachable peer must trip its gossip
	// breaker rather than paying the full RPC timeout forever.
	waitFor(t, 5*time.Second, "gossip breaker to open", func() bool {
		return rec.opened("gossip:" + dead.String())
	})
}

func TestCoordinator_MembersPersisted(t *testing.T) {
	tc := newTestCluster(t, 2)
	ctx := context.Background()

	waitFor(t, 5*time.Second, "membership records", func() bool {
		members, err := tc.coords[0].Members(ctx)
		return err == nil && len(members) >= 2
	})

	if _, err := tc.coords[0].Member(ctx, tc.ids[1]); err != nil {
		t.Errorf("Member: %v", err)
	}
	if _, err := tc.coords[0].Member(ctx, id.NewNodeID()); !errors.Is(err, accord.ErrNodeNotFound) {
		t.Errorf("Member of unknown node = %v, want ErrNodeNotFound", err)
	}
}

func TestCoordinator_StopRejectsFurtherUse(t *testing.T) {
	net := transportmem.NewNetwork()
	self := id.NewNodeID()

	c, err := accord.New(
		accord.WithSelf(self),
		accord.WithStore(memory.New()),
		accord.WithTransport(net.Node(self)),
		accord.WithConfig(testConfig()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if _, err := c.Leader(context.Background(), accord.Eventual); !errors.Is(err, accord.ErrStopped) {
		t.Errorf("Leader after Stop = %v, want ErrStopped", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, accord.ErrStopped) {
		t.Errorf("Start after Stop = %v, want ErrStopped", err)
	}
}
