package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/accord/backoff"
	"github.com/xraph/accord/breaker"
	"github.com/xraph/accord/ext"
	"github.com/xraph/accord/id"
	"github.com/xraph/accord/store"
	"github.com/xraph/accord/transport"
)

var (
	// ErrNotLeader is returned when an operation requires the local node to
	// be the leader and it is not.
	ErrNotLeader = errors.New("consensus: not the leader")

	// ErrNoLeader is returned when no leader is known for the current term.
	ErrNoLeader = errors.New("consensus: no known leader")

	// ErrLeadershipLost is returned when a leadership confirmation round
	// fails to reach a quorum of acknowledgements.
	ErrLeadershipLost = errors.New("consensus: leadership lost")

	// ErrNoQuorum is returned when an election completes without a majority.
	ErrNoQuorum = errors.New("consensus: no quorum")

	// ErrElectionFailed is returned when an election is abandoned before a
	// result (timeout, or the term moved on).
	ErrElectionFailed = errors.New("consensus: election failed")

	// ErrStopped is returned when the node has been stopped.
	ErrStopped = errors.New("consensus: node stopped")
)

// PeersFunc returns the current cluster members to contact. It is called
// at the start of every election and heartbeat round so membership changes
// take effect immediately. The result may include the local node; it is
// filtered out.
type PeersFunc func() []id.NodeID

// Config holds election tuning parameters.
type Config struct {
	// ElectionTimeoutMin and ElectionTimeoutMax bound the randomized
	// election timeout. A fresh timeout is drawn on every reset.
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration

	// HeartbeatInterval is how often a leader sends AppendEntries
	// heartbeats. Must be well below ElectionTimeoutMin.
	HeartbeatInterval time.Duration

	// RPCTimeout bounds each outbound peer RPC.
	RPCTimeout time.Duration

	// Breaker is applied to every peer client.
	Breaker breaker.Config
}

// DefaultConfig returns the classic Raft paper timings: 150-300ms election
// timeout, 50ms heartbeats.
func DefaultConfig() Config {
	return Config{
		ElectionTimeoutMin: 150 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
		HeartbeatInterval:  50 * time.Millisecond,
		RPCTimeout:         100 * time.Millisecond,
		Breaker:            breaker.DefaultConfig(),
	}
}

// Node is one participant in leader election. Safe for concurrent use.
type Node struct {
	self      id.NodeID
	cfg       Config
	store     store.HardStateStore
	transport transport.Transport
	peers     PeersFunc
	hooks     *ext.Registry
	logger    *slog.Logger
	jitter    *backoff.Jitter

	mu       sync.Mutex
	term     uint64
	votedFor string
	role     Role
	leaderID string
	started  bool

	clientsMu sync.Mutex
	clients   map[string]*peerClient

	resetCh  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Node.
type Option func(*Node)

// WithConfig sets election tuning. Defaults to DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(n *Node) { n.cfg = cfg }
}

// WithHooks sets the extension registry notified of elections, step-downs,
// and term advances.
func WithHooks(r *ext.Registry) Option {
	return func(n *Node) { n.hooks = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// New creates an election participant. peers supplies the current cluster
// membership; hard state is loaded from hs on Start.
func New(self id.NodeID, hs store.HardStateStore, tr transport.Transport, peers PeersFunc, opts ...Option) (*Node, error) {
	if self.IsNil() {
		return nil, errors.New("consensus: self node ID is required")
	}
	if hs == nil {
		return nil, errors.New("consensus: hard state store is required")
	}
	if tr == nil {
		return nil, errors.New("consensus: transport is required")
	}
	if peers == nil {
		return nil, errors.New("consensus: peers func is required")
	}

	n := &Node{
		self:      self,
		cfg:       DefaultConfig(),
		store:     hs,
		transport: tr,
		peers:     peers,
		logger:    slog.Default(),
		clients:   make(map[string]*peerClient),
		resetCh:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.hooks == nil {
		n.hooks = ext.NewRegistry(n.logger)
	}

	if n.cfg.ElectionTimeoutMin <= 0 || n.cfg.ElectionTimeoutMax < n.cfg.ElectionTimeoutMin {
		return nil, fmt.Errorf("consensus: invalid election timeout range [%v, %v]",
			n.cfg.ElectionTimeoutMin, n.cfg.ElectionTimeoutMax)
	}
	if n.cfg.HeartbeatInterval <= 0 || n.cfg.HeartbeatInterval >= n.cfg.ElectionTimeoutMin {
		return nil, fmt.Errorf("consensus: heartbeat interval %v must be below election timeout min %v",
			n.cfg.HeartbeatInterval, n.cfg.ElectionTimeoutMin)
	}
	if n.cfg.RPCTimeout <= 0 {
		return nil, fmt.Errorf("consensus: rpc timeout %v must be positive", n.cfg.RPCTimeout)
	}
	n.jitter = backoff.NewJitter(n.cfg.ElectionTimeoutMin, n.cfg.ElectionTimeoutMax)

	return n, nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start loads persisted hard state and begins the election loop. Calling
// Start on a started node is a no-op.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return nil
	}

	hs, err := n.store.LoadHardState(ctx, n.self)
	switch {
	case err == nil:
		n.term = hs.Term
		n.votedFor = hs.VotedFor
	case errors.Is(err, store.ErrNotFound):
		// First boot.
	default:
		n.mu.Unlock()
		return fmt.Errorf("consensus: load hard state: %w", err)
	}
	n.started = true
	term := n.term
	n.mu.Unlock()

	n.logger.Info("consensus node starting",
		slog.String("node", n.self.String()),
		slog.Uint64("term", term),
	)

	n.wg.Add(1)
	go n.run()
	return nil
}

// Stop shuts down the election loop, waiting up to ctx for it to exit.
func (n *Node) Stop(ctx context.Context) error {
	n.stopOnce.Do(func() { close(n.stopCh) })

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run drives the role state machine: followers and candidates wait out
// election timeouts, leaders send heartbeats.
func (n *Node) run() {
	defer n.wg.Done()

	timer := time.NewTimer(n.jitter.Next())
	defer timer.Stop()
	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		if n.Role() == Leader {
			select {
			case <-n.stopCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
				n.broadcastHeartbeat(ctx)
				cancel()
			case <-n.resetCh:
				// Role may have changed; re-check.
			}
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(n.jitter.Next())

		select {
		case <-n.stopCh:
			return
		case <-n.resetCh:
			// Valid leader contact or vote granted; redraw the timeout.
		case <-timer.C:
			if err := n.Campaign(context.Background()); err != nil {
				n.logger.Debug("election attempt failed",
					slog.String("node", n.self.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// kick wakes the run loop: redraw the election timer or re-check the role.
func (n *Node) kick() {
	select {
	case n.resetCh <- struct{}{}:
	default:
	}
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// Role returns the node's current role.
func (n *Node) Role() Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

// Term returns the node's current term.
func (n *Node) Term() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.term
}

// Leader returns the known leader for the current term, if any.
func (n *Node) Leader() (id.NodeID, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.leaderID == "" {
		return id.Nil, false
	}
	nodeID, err := id.ParseNodeID(n.leaderID)
	if err != nil {
		return id.Nil, false
	}
	return nodeID, true
}

// peerList returns the current peers, excluding the local node.
func (n *Node) peerList() []id.NodeID {
	all := n.peers()
	out := make([]id.NodeID, 0, len(all))
	for _, p := range all {
		if p.IsNil() || p.String() == n.self.String() {
			continue
		}
		out = append(out, p)
	}
	return out
}

// quorumSize returns the majority threshold for a cluster of total nodes.
func quorumSize(total int) int { return total/2 + 1 }

// ──────────────────────────────────────────────────
// Election
// ──────────────────────────────────────────────────

// Campaign runs one election: advance the term, vote for self, solicit
// votes from all peers, and take leadership on a majority. Split votes and
// timeouts return an error; the election loop retries after a fresh
// randomized timeout.
func (n *Node) Campaign(ctx context.Context) error {
	n.mu.Lock()
	if n.role == Leader {
		n.mu.Unlock()
		return nil
	}

	newTerm := n.term + 1
	hs := store.HardState{Term: newTerm, VotedFor: n.self.String()}
	if err := n.store.SaveHardState(ctx, n.self, hs); err != nil {
		n.mu.Unlock()
		return fmt.Errorf("consensus: persist candidate state: %w", err)
	}
	n.term = newTerm
	n.votedFor = n.self.String()
	n.role = Candidate
	n.leaderID = ""
	n.mu.Unlock()

	n.hooks.EmitTermAdvanced(ctx, newTerm)
	n.logger.Info("starting election",
		slog.String("node", n.self.String()),
		slog.Uint64("term", newTerm),
	)

	peers := n.peerList()
	quorum := quorumSize(len(peers) + 1)
	votes := 1 // own vote

	if votes >= quorum {
		return n.becomeLeader(ctx, newTerm)
	}

	electionCtx, cancel := context.WithTimeout(ctx, n.cfg.ElectionTimeoutMax)
	defer cancel()

	votesCh := make(chan bool, len(peers))
	for _, peer := range peers {
		go func() {
			votesCh <- n.requestVote(electionCtx, peer, newTerm)
		}()
	}

	for range peers {
		select {
		case granted := <-votesCh:
			if !granted {
				continue
			}
			votes++
			if votes >= quorum {
				return n.becomeLeader(ctx, newTerm)
			}
		case <-electionCtx.Done():
			return fmt.Errorf("%w: term %d: %d/%d votes before timeout",
				ErrElectionFailed, newTerm, votes, quorum)
		case <-n.stopCh:
			return ErrStopped
		}
	}

	return fmt.Errorf("%w: term %d: %d/%d votes", ErrNoQuorum, newTerm, votes, quorum)
}

// requestVote solicits one peer's vote for term. Any failure counts as a
// denial; a response carrying a higher term forces a step-down.
func (n *Node) requestVote(ctx context.Context, peer id.NodeID, term uint64) bool {
	c, err := n.client(peer)
	if err != nil {
		n.logger.Warn("peer client", slog.String("peer", peer.String()), slog.String("error", err.Error()))
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, n.cfg.RPCTimeout)
	defer cancel()

	req := &RequestVoteRequest{Term: term, CandidateID: n.self.String()}
	var resp RequestVoteResponse
	if err := c.call(callCtx, n.self, transport.MethodRequestVote, req, &resp); err != nil {
		return false
	}

	if resp.Term > term {
		n.stepDown(ctx, resp.Term, "higher term observed")
		return false
	}
	return resp.Granted
}

// becomeLeader takes leadership for term if the node is still the
// candidate of that term, then asserts it with an immediate heartbeat.
func (n *Node) becomeLeader(ctx context.Context, term uint64) error {
	n.mu.Lock()
	if n.term != term || n.role != Candidate {
		cur := n.term
		n.mu.Unlock()
		return fmt.Errorf("%w: term moved to %d during election", ErrElectionFailed, cur)
	}
	n.role = Leader
	n.leaderID = n.self.String()
	n.mu.Unlock()

	n.logger.Info("won election",
		slog.String("node", n.self.String()),
		slog.Uint64("term", term),
	)
	n.hooks.EmitLeaderElected(ctx, n.self, term)
	n.kick()

	hbCtx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
	defer cancel()
	n.broadcastHeartbeat(hbCtx)
	return nil
}

// stepDown demotes the node to Follower, adopting term if it is higher
// than the current one. Persist failure skips the term adoption but still
// demotes the role.
func (n *Node) stepDown(ctx context.Context, term uint64, reason string) {
	n.mu.Lock()
	if term <= n.term && n.role == Follower {
		n.mu.Unlock()
		return
	}

	advanced := false
	if term > n.term {
		hs := store.HardState{Term: term, VotedFor: ""}
		if err := n.store.SaveHardState(ctx, n.self, hs); err != nil {
			n.logger.Error("persist hard state on step-down",
				slog.String("node", n.self.String()),
				slog.String("error", err.Error()),
			)
		} else {
			n.term = term
			n.votedFor = ""
			advanced = true
		}
	}
	fromRole := n.role
	n.role = Follower
	n.leaderID = ""
	cur := n.term
	n.mu.Unlock()

	if advanced {
		n.hooks.EmitTermAdvanced(ctx, cur)
	}
	if fromRole == Leader || fromRole == Candidate {
		n.logger.Info("stepping down",
			slog.String("node", n.self.String()),
			slog.String("from", fromRole.String()),
			slog.Uint64("term", cur),
			slog.String("reason", reason),
		)
		n.hooks.EmitLeaderStepDown(ctx, n.self, cur, reason)
	}
	n.kick()
}

// ──────────────────────────────────────────────────
// Heartbeats
// ──────────────────────────────────────────────────

// broadcastHeartbeat sends one AppendEntries round to all peers and
// returns the number of acknowledgements including the local node. Peer
// failures never abort the round; a higher term in any response forces a
// step-down.
func (n *Node) broadcastHeartbeat(ctx context.Context) int {
	n.mu.Lock()
	if n.role != Leader {
		n.mu.Unlock()
		return 0
	}
	term := n.term
	n.mu.Unlock()

	peers := n.peerList()

	var acks atomic.Int64
	acks.Add(1) // self

	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range peers {
		g.Go(func() error {
			c, err := n.client(peer)
			if err != nil {
				return nil //nolint:nilerr // a bad peer must not abort the round
			}

			callCtx, cancel := context.WithTimeout(gctx, n.cfg.RPCTimeout)
			defer cancel()

			req := &AppendEntriesRequest{Term: term, LeaderID: n.self.String()}
			var resp AppendEntriesResponse
			if err := c.call(callCtx, n.self, transport.MethodAppendEntries, req, &resp); err != nil {
				return nil //nolint:nilerr // unreachable peer, breaker already accounted it
			}

			if resp.Term > term {
				n.stepDown(gctx, resp.Term, "higher term observed")
				return nil
			}
			if resp.Success {
				acks.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(acks.Load())
}

// ConfirmLeadership performs a synchronous heartbeat round and requires a
// quorum of acknowledgements. Strong reads use it to rule out a stale
// leader on the minority side of a partition.
func (n *Node) ConfirmLeadership(ctx context.Context) error {
	if n.Role() != Leader {
		return ErrNotLeader
	}

	acks := n.broadcastHeartbeat(ctx)
	quorum := quorumSize(len(n.peerList()) + 1)

	if n.Role() != Leader {
		return ErrLeadershipLost
	}
	if acks < quorum {
		return fmt.Errorf("%w: %d/%d heartbeat acks", ErrLeadershipLost, acks, quorum)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Inbound RPC handlers
// ──────────────────────────────────────────────────

// Handler returns the transport handler dispatching consensus RPCs.
func (n *Node) Handler() transport.Handler {
	return func(ctx context.Context, req *transport.Frame) (*transport.Frame, error) {
		switch req.Method {
		case transport.MethodRequestVote:
			var rv RequestVoteRequest
			if err := req.Unmarshal(&rv); err != nil {
				return nil, fmt.Errorf("consensus: decode request_vote: %w", err)
			}
			return transport.NewResponse(n.self, req, n.HandleRequestVote(ctx, &rv))

		case transport.MethodAppendEntries:
			var ae AppendEntriesRequest
			if err := req.Unmarshal(&ae); err != nil {
				return nil, fmt.Errorf("consensus: decode append_entries: %w", err)
			}
			return transport.NewResponse(n.self, req, n.HandleAppendEntries(ctx, &ae))

		default:
			return nil, fmt.Errorf("consensus: unknown method %q", req.Method)
		}
	}
}

// HandleRequestVote applies the vote-granting rules: deny stale terms,
// adopt higher ones, grant at most one vote per term. The new term and
// vote are persisted before the response is visible.
func (n *Node) HandleRequestVote(ctx context.Context, req *RequestVoteRequest) *RequestVoteResponse {
	n.mu.Lock()

	if req.Term < n.term {
		resp := &RequestVoteResponse{Term: n.term, Granted: false}
		n.mu.Unlock()
		return resp
	}

	newTerm := n.term
	newVote := n.votedFor
	if req.Term > n.term {
		newTerm = req.Term
		newVote = ""
	}

	grant := newVote == "" || newVote == req.CandidateID
	if grant {
		newVote = req.CandidateID
	}

	if newTerm != n.term || newVote != n.votedFor {
		hs := store.HardState{Term: newTerm, VotedFor: newVote}
		if err := n.store.SaveHardState(ctx, n.self, hs); err != nil {
			n.logger.Error("persist hard state on vote",
				slog.String("node", n.self.String()),
				slog.String("error", err.Error()),
			)
			resp := &RequestVoteResponse{Term: n.term, Granted: false}
			n.mu.Unlock()
			return resp
		}
	}

	termAdvanced := newTerm > n.term
	fromRole := n.role
	n.term = newTerm
	n.votedFor = newVote
	if termAdvanced {
		n.role = Follower
		n.leaderID = ""
	}
	n.mu.Unlock()

	if termAdvanced {
		n.hooks.EmitTermAdvanced(ctx, newTerm)
		if fromRole == Leader || fromRole == Candidate {
			n.hooks.EmitLeaderStepDown(ctx, n.self, newTerm, "higher term observed")
		}
	}
	if grant {
		n.kick()
	}

	return &RequestVoteResponse{Term: newTerm, Granted: grant}
}

// HandleAppendEntries accepts a leader heartbeat: deny stale terms, adopt
// higher ones, and yield the Candidate role to a leader of the same term.
func (n *Node) HandleAppendEntries(ctx context.Context, req *AppendEntriesRequest) *AppendEntriesResponse {
	n.mu.Lock()

	if req.Term < n.term {
		resp := &AppendEntriesResponse{Term: n.term, Success: false}
		n.mu.Unlock()
		return resp
	}

	newVote := n.votedFor
	if req.Term > n.term {
		newVote = ""
		hs := store.HardState{Term: req.Term, VotedFor: newVote}
		if err := n.store.SaveHardState(ctx, n.self, hs); err != nil {
			n.logger.Error("persist hard state on heartbeat",
				slog.String("node", n.self.String()),
				slog.String("error", err.Error()),
			)
			resp := &AppendEntriesResponse{Term: n.term, Success: false}
			n.mu.Unlock()
			return resp
		}
	}

	termAdvanced := req.Term > n.term
	fromRole := n.role
	n.term = req.Term
	n.votedFor = newVote
	n.role = Follower
	n.leaderID = req.LeaderID
	n.mu.Unlock()

	if termAdvanced {
		n.hooks.EmitTermAdvanced(ctx, req.Term)
	}
	if fromRole == Leader || fromRole == Candidate {
		n.hooks.EmitLeaderStepDown(ctx, n.self, req.Term, "valid leader observed")
	}
	n.kick()

	return &AppendEntriesResponse{Term: req.Term, Success: true}
}
