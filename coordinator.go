package accord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/accord/breaker"
	"github.com/xraph/accord/clock"
	"github.com/xraph/accord/consensus"
	"github.com/xraph/accord/detector"
	"github.com/xraph/accord/ext"
	"github.com/xraph/accord/id"
	"github.com/xraph/accord/ring"
	"github.com/xraph/accord/store"
	"github.com/xraph/accord/transport"
)

// Consistency selects how much staleness a read tolerates.
type Consistency int

const (
	// Eventual answers from local state. Cheap, but during a partition a
	// minority node may answer from a stale view.
	Eventual Consistency = iota

	// Strong confirms local leadership with a quorum heartbeat round
	// before answering. Only the leader can serve Strong reads.
	Strong
)

// String returns the consistency level name.
func (c Consistency) String() string {
	switch c {
	case Eventual:
		return "eventual"
	case Strong:
		return "strong"
	default:
		return "unknown"
	}
}

// heartbeatPayload is the membership heartbeat body. The logical clock
// value establishes causal order across the cluster's membership events.
type heartbeatPayload struct {
	Address string `json:"address,omitempty" msgpack:"address,omitempty"`
	Clock   uint64 `json:"clock" msgpack:"clock"`
}

// heartbeatAck carries the receiver's logical clock back to the sender.
type heartbeatAck struct {
	Clock uint64 `json:"clock" msgpack:"clock"`
}

// Coordinator composes the coordination subsystems: failure detector,
// consistent hash ring, leader election, logical clock, and the extension
// registry. One Coordinator runs per process.
type Coordinator struct {
	self       id.NodeID
	address    string
	cfg        Config
	logger     *slog.Logger
	store      store.Store
	transport  transport.Transport
	extensions []ext.Extension
	seeds      []id.NodeID

	hooks     *ext.Registry
	detector  *detector.Detector
	ring      *ring.Ring
	consensus *consensus.Node
	lamport   *clock.Lamport

	breakersMu sync.Mutex
	breakers   map[string]*breaker.Breaker

	mu      sync.Mutex
	members map[string]id.NodeID
	started bool
	stopped bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Coordinator from options. Self, store, and transport are
// required; everything else has defaults.
func New(opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		logger:   slog.Default(),
		lamport:  clock.NewLamport(),
		members:  make(map[string]id.NodeID),
		breakers: make(map[string]*breaker.Breaker),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.self.IsNil() {
		return nil, ErrNoSelf
	}
	if c.store == nil {
		return nil, ErrNoStore
	}
	if c.transport == nil {
		return nil, ErrNoTransport
	}
	if c.cfg == (Config{}) {
		c.cfg = DefaultConfig()
	}

	c.hooks = ext.NewRegistry(c.logger)
	// The ring synchronizer registers first so ring membership is already
	// updated when user extensions observe the same event.
	c.hooks.Register(&ringSync{c: c})
	for _, e := range c.extensions {
		c.hooks.Register(e)
	}

	var err error
	c.detector, err = detector.New(c.cfg.SuspectTimeout, c.cfg.DeadTimeout, c.cfg.EvictionWindow,
		detector.WithHooks(c.hooks),
		detector.WithLogger(c.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("accord: build detector: %w", err)
	}

	c.ring = ring.New(ring.WithReplicaCount(c.cfg.ReplicaCount))

	c.consensus, err = consensus.New(c.self, c.store, c.transport, c.quorumMembers,
		consensus.WithConfig(consensus.Config{
			ElectionTimeoutMin: c.cfg.ElectionTimeoutMin,
			ElectionTimeoutMax: c.cfg.ElectionTimeoutMax,
			HeartbeatInterval:  c.cfg.HeartbeatInterval,
			RPCTimeout:         c.cfg.RPCTimeout,
			Breaker:            c.breakerConfig(),
		}),
		consensus.WithHooks(c.hooks),
		consensus.WithLogger(c.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("accord: build consensus: %w", err)
	}

	c.members[c.self.String()] = c.self
	c.ring.AddNode(c.self)
	for _, peer := range c.seeds {
		if peer.IsNil() || peer.String() == c.self.String() {
			continue
		}
		c.members[peer.String()] = peer
		c.ring.AddNode(peer)
	}

	return c, nil
}

// Self returns the local node's identity.
func (c *Coordinator) Self() id.NodeID { return c.self }

// Clock returns the coordinator's Lamport clock for application use.
func (c *Coordinator) Clock() *clock.Lamport { return c.lamport }

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start wires the transport handler, seeds membership from the store, and
// launches the election and membership loops.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	if err := c.store.Migrate(ctx); err != nil {
		return fmt.Errorf("accord: migrate store: %w", err)
	}

	// Rejoin: membership records persisted by a previous run tell us which
	// peers to contact before any heartbeats arrive.
	persisted, err := c.store.ListMembers(ctx)
	if err != nil {
		return fmt.Errorf("accord: load members: %w", err)
	}
	c.mu.Lock()
	for _, m := range persisted {
		if m.NodeID.String() == c.self.String() {
			continue
		}
		if _, ok := c.members[m.NodeID.String()]; !ok {
			c.members[m.NodeID.String()] = m.NodeID
			c.ring.AddNode(m.NodeID)
		}
	}
	c.mu.Unlock()

	if err := c.store.PutMember(ctx, &store.Member{NodeID: c.self, Address: c.address, JoinedAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("accord: register self: %w", err)
	}

	c.transport.Handle(c.dispatch())
	c.detector.Heartbeat(c.self)

	if err := c.consensus.Start(ctx); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.run()

	c.logger.Info("coordinator started",
		slog.String("node", c.self.String()),
		slog.Int("seeds", len(c.seeds)),
	)
	return nil
}

// Stop shuts down the loops, notifies extensions, and waits up to ctx.
// The store and transport are caller-owned and stay open.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	started := c.started
	c.mu.Unlock()

	close(c.stopCh)

	var stopErr error
	if started {
		stopErr = c.consensus.Stop(ctx)

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = errors.Join(stopErr, ctx.Err())
		}
	}

	c.hooks.EmitShutdown(ctx)
	c.logger.Info("coordinator stopped", slog.String("node", c.self.String()))
	return stopErr
}

// run drives the periodic work: detector sweeps and membership heartbeats.
func (c *Coordinator) run() {
	defer c.wg.Done()

	sweep := time.NewTicker(c.cfg.SweepInterval)
	defer sweep.Stop()

	// Three heartbeats fit inside the suspect window, so one lost
	// heartbeat does not mark a healthy node Suspected.
	gossip := time.NewTicker(c.cfg.SuspectTimeout / 3)
	defer gossip.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-sweep.C:
			c.detector.Sweep()
		case <-gossip.C:
			c.gossip()
		}
	}
}

// gossip sends one membership heartbeat to every known peer. Each send
// goes through the peer's circuit breaker, so heartbeats to a long-dead
// peer fast-fail instead of blocking out the RPC timeout every tick.
// Failures are otherwise ignored; the failure detector times silent
// peers out.
func (c *Coordinator) gossip() {
	c.detector.Heartbeat(c.self)

	payload := &heartbeatPayload{Address: c.address, Clock: c.lamport.Tick()}

	for _, peer := range c.peerSnapshot() {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()

			br, err := c.peerBreaker(peer)
			if err != nil {
				c.logger.Warn("gossip breaker",
					slog.String("peer", peer.String()),
					slog.String("error", err.Error()),
				)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RPCTimeout)
			defer cancel()

			err = br.Do(ctx, func(ctx context.Context) error {
				req, err := transport.NewRequest(c.self, transport.MethodHeartbeat, payload)
				if err != nil {
					return err
				}
				resp, err := c.transport.Send(ctx, peer, req)
				if err != nil {
					return err
				}
				if resp.Error != nil {
					return fmt.Errorf("accord: heartbeat: peer error %d: %s", resp.Error.Code, resp.Error.Message)
				}

				var ack heartbeatAck
				if err := resp.Unmarshal(&ack); err != nil {
					return err
				}
				c.lamport.Observe(ack.Clock)
				return nil
			})
			if err != nil {
				return
			}
			// A successful round trip is proof of life in both directions.
			c.detector.Heartbeat(peer)
		}()
	}
}

// peerBreaker returns the gossip breaker for peer, creating it on first
// use. Consensus RPCs carry their own per-peer breakers; these guard only
// the membership heartbeat path.
func (c *Coordinator) peerBreaker(peer id.NodeID) (*breaker.Breaker, error) {
	key := peer.String()

	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()

	if br, ok := c.breakers[key]; ok {
		return br, nil
	}
	br, err := breaker.New("gossip:"+key, c.breakerConfig(),
		breaker.WithLogger(c.logger),
		breaker.WithStateChange(c.onBreakerChange),
	)
	if err != nil {
		return nil, err
	}
	c.breakers[key] = br
	return br, nil
}

// breakerConfig maps the coordinator's breaker tuning onto breaker.Config.
// The same settings apply to consensus peer clients and gossip breakers.
func (c *Coordinator) breakerConfig() breaker.Config {
	return breaker.Config{
		FailureThresholdPct: c.cfg.BreakerFailureThresholdPct,
		RequestThreshold:    c.cfg.BreakerRequestThreshold,
		RecoveryTimeout:     c.cfg.BreakerRecoveryTimeout,
		SuccessThreshold:    c.cfg.BreakerSuccessThreshold,
	}
}

// onBreakerChange runs while the breaker's lock is held; emit off-thread.
func (c *Coordinator) onBreakerChange(name string, from, to breaker.State) {
	go c.hooks.EmitCircuitStateChanged(context.Background(), name, from.String(), to.String())
}

// peerSnapshot returns the known members excluding self.
func (c *Coordinator) peerSnapshot() []id.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]id.NodeID, 0, len(c.members))
	for key, peer := range c.members {
		if key == c.self.String() {
			continue
		}
		out = append(out, peer)
	}
	return out
}

// quorumMembers is the consensus membership view: every known member that
// the detector has not declared Failed. Unknown counts as in — at boot,
// seeded peers that have not heartbeated yet still belong to the quorum,
// otherwise every node would elect itself in a cluster of one.
func (c *Coordinator) quorumMembers() []id.NodeID {
	c.mu.Lock()
	snapshot := make([]id.NodeID, 0, len(c.members))
	for _, peer := range c.members {
		snapshot = append(snapshot, peer)
	}
	c.mu.Unlock()

	out := snapshot[:0]
	for _, peer := range snapshot {
		if c.detector.Status(peer) == detector.StatusFailed {
			continue
		}
		out = append(out, peer)
	}
	return out
}

// ──────────────────────────────────────────────────
// Inbound frames
// ──────────────────────────────────────────────────

// dispatch routes inbound frames: membership heartbeats here, consensus
// RPCs to the consensus node.
func (c *Coordinator) dispatch() transport.Handler {
	consensusHandler := c.consensus.Handler()

	return func(ctx context.Context, req *transport.Frame) (*transport.Frame, error) {
		if req.Method == transport.MethodHeartbeat {
			return c.handleHeartbeat(ctx, req)
		}
		return consensusHandler(ctx, req)
	}
}

func (c *Coordinator) handleHeartbeat(ctx context.Context, req *transport.Frame) (*transport.Frame, error) {
	from, err := req.FromNode()
	if err != nil {
		return nil, fmt.Errorf("accord: heartbeat from unparseable node: %w", err)
	}

	var hb heartbeatPayload
	if err := req.Unmarshal(&hb); err != nil {
		return nil, fmt.Errorf("accord: decode heartbeat: %w", err)
	}

	c.observeMember(ctx, from, hb.Address)
	c.detector.Heartbeat(from)
	now := c.lamport.Observe(hb.Clock)

	return transport.NewResponse(c.self, req, &heartbeatAck{Clock: now})
}

// observeMember admits a node into the membership universe on first
// contact: ring entry, member record, membership-changed event.
func (c *Coordinator) observeMember(ctx context.Context, nodeID id.NodeID, address string) {
	key := nodeID.String()

	c.mu.Lock()
	if _, known := c.members[key]; known {
		c.mu.Unlock()
		return
	}
	c.members[key] = nodeID
	c.ring.AddNode(nodeID)
	c.mu.Unlock()

	member := &store.Member{NodeID: nodeID, Address: address, JoinedAt: time.Now().UTC()}
	if err := c.store.PutMember(ctx, member); err != nil {
		c.logger.Warn("persist member",
			slog.String("node", key),
			slog.String("error", err.Error()),
		)
	}

	c.logger.Info("node joined", slog.String("node", key))
	c.hooks.EmitMembershipChanged(ctx, c.ring.Nodes())
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// Leader returns the cluster leader. Eventual answers from the local view
// and returns ErrNoLeader when none is known. Strong confirms the local
// node's own leadership with a quorum round: it returns self on success,
// ErrNotLeader if the local node is not the leader, and ErrLeadershipLost
// if the quorum cannot be reached.
func (c *Coordinator) Leader(ctx context.Context, consistency Consistency) (id.NodeID, error) {
	if c.isStopped() {
		return id.Nil, ErrStopped
	}

	if consistency == Strong {
		if err := c.consensus.ConfirmLeadership(ctx); err != nil {
			return id.Nil, err
		}
		return c.self, nil
	}

	leader, ok := c.consensus.Leader()
	if !ok {
		return id.Nil, ErrNoLeader
	}
	return leader, nil
}

// Owner returns the node owning key on the hash ring. Strong additionally
// requires the local node to confirm leadership first, ruling out answers
// from the stale side of a partition.
func (c *Coordinator) Owner(ctx context.Context, key string, consistency Consistency) (id.NodeID, error) {
	if c.isStopped() {
		return id.Nil, ErrStopped
	}
	if consistency == Strong {
		if err := c.consensus.ConfirmLeadership(ctx); err != nil {
			return id.Nil, err
		}
	}
	return c.ring.Owner(key)
}

// Owners returns the n distinct nodes owning key, for replicated
// placement.
func (c *Coordinator) Owners(ctx context.Context, key string, n int, consistency Consistency) ([]id.NodeID, error) {
	if c.isStopped() {
		return nil, ErrStopped
	}
	if consistency == Strong {
		if err := c.consensus.ConfirmLeadership(ctx); err != nil {
			return nil, err
		}
	}
	return c.ring.Owners(key, n)
}

// Status reports the failure detector's view of a node.
func (c *Coordinator) Status(nodeID id.NodeID) detector.Status {
	return c.detector.Status(nodeID)
}

// AliveNodes returns the nodes currently considered alive.
func (c *Coordinator) AliveNodes() []id.NodeID {
	return c.detector.AliveNodes()
}

// Members returns the persisted membership records.
func (c *Coordinator) Members(ctx context.Context) ([]*store.Member, error) {
	if c.isStopped() {
		return nil, ErrStopped
	}
	return c.store.ListMembers(ctx)
}

// Member returns one persisted membership record, or ErrNodeNotFound.
func (c *Coordinator) Member(ctx context.Context, nodeID id.NodeID) (*store.Member, error) {
	members, err := c.Members(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m.NodeID.String() == nodeID.String() {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
}

// Term returns the current consensus term.
func (c *Coordinator) Term() uint64 { return c.consensus.Term() }

// Role returns the local node's consensus role.
func (c *Coordinator) Role() consensus.Role { return c.consensus.Role() }

func (c *Coordinator) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// ──────────────────────────────────────────────────
// Ring synchronization
// ──────────────────────────────────────────────────

// ringSync keeps hash ring membership aligned with the failure detector:
// failed nodes stop owning keys, recovered nodes own them again, evicted
// nodes are forgotten entirely.
type ringSync struct {
	c *Coordinator
}

var (
	_ ext.Extension     = (*ringSync)(nil)
	_ ext.NodeFailed    = (*ringSync)(nil)
	_ ext.NodeRecovered = (*ringSync)(nil)
	_ ext.NodeEvicted   = (*ringSync)(nil)
)

func (r *ringSync) Name() string { return "accord.ring-sync" }

func (r *ringSync) OnNodeFailed(ctx context.Context, nodeID id.NodeID) error {
	r.c.ring.RemoveNode(nodeID)
	r.c.hooks.EmitMembershipChanged(ctx, r.c.ring.Nodes())
	return nil
}

func (r *ringSync) OnNodeRecovered(ctx context.Context, nodeID id.NodeID) error {
	r.c.ring.AddNode(nodeID)
	r.c.hooks.EmitMembershipChanged(ctx, r.c.ring.Nodes())
	return nil
}

func (r *ringSync) OnNodeEvicted(ctx context.Context, nodeID id.NodeID) error {
	r.c.mu.Lock()
	delete(r.c.members, nodeID.String())
	r.c.ring.RemoveNode(nodeID)
	r.c.mu.Unlock()

	r.c.breakersMu.Lock()
	delete(r.c.breakers, nodeID.String())
	r.c.breakersMu.Unlock()

	if err := r.c.store.RemoveMember(ctx, nodeID); err != nil {
		r.c.logger.Warn("remove evicted member",
			slog.String("node", nodeID.String()),
			slog.String("error", err.Error()),
		)
	}
	r.c.hooks.EmitMembershipChanged(ctx, r.c.ring.Nodes())
	return nil
}
