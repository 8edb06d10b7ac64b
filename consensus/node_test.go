package consensus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/accord/consensus"
	"github.com/xraph/accord/id"
	"github.com/xraph/accord/store/memory"
	transportmem "github.com/xraph/accord/transport/memory"
)

// fastConfig keeps unit test elections short. The breaker recovery is
// shortened to match, so a healed partition converges within test windows.
func fastConfig() consensus.Config {
	cfg := consensus.DefaultConfig()
	cfg.ElectionTimeoutMin = 50 * time.Millisecond
	cfg.ElectionTimeoutMax = 80 * time.Millisecond
	cfg.HeartbeatInterval = 15 * time.Millisecond
	cfg.RPCTimeout = 30 * time.Millisecond
	cfg.Breaker.RequestThreshold = 4
	cfg.Breaker.RecoveryTimeout = 150 * time.Millisecond
	return cfg
}

// newTestNode builds a node without starting its election loop, so handler
// behavior can be exercised deterministically.
func newTestNode(t *testing.T, peers ...id.NodeID) (*consensus.Node, id.NodeID, *memory.Store) {
	t.Helper()

	self := id.NewNodeID()
	st := memory.New()
	net := transportmem.NewNetwork()

	n, err := consensus.New(self, st, net.Node(self),
		func() []id.NodeID { return peers },
		consensus.WithConfig(fastConfig()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n, self, st
}

func TestHandleRequestVote_GrantRules(t *testing.T) {
	ctx := context.Background()
	candA := id.NewNodeID().String()
	candB := id.NewNodeID().String()
	leader := id.NewNodeID().String()

	tests := []struct {
		name        string
		setup       func(n *consensus.Node)
		req         consensus.RequestVoteRequest
		wantGranted bool
		wantTerm    uint64
	}{
		{
			name:        "first vote at new term granted",
			req:         consensus.RequestVoteRequest{Term: 1, CandidateID: candA},
			wantGranted: true,
			wantTerm:    1,
		},
		{
			name: "stale term denied",
			setup: func(n *consensus.Node) {
				n.HandleAppendEntries(ctx, &consensus.AppendEntriesRequest{Term: 5, LeaderID: leader})
			},
			req:         consensus.RequestVoteRequest{Term: 4, CandidateID: candA},
			wantGranted: false,
			wantTerm:    5,
		},
		{
			name: "repeat vote for same candidate granted",
			setup: func(n *consensus.Node) {
				n.HandleRequestVote(ctx, &consensus.RequestVoteRequest{Term: 3, CandidateID: candA})
			},
			req:         consensus.RequestVoteRequest{Term: 3, CandidateID: candA},
			wantGranted: true,
			wantTerm:    3,
		},
		{
			name: "second candidate same term denied",
			setup: func(n *consensus.Node) {
				n.HandleRequestVote(ctx, &consensus.RequestVoteRequest{Term: 3, CandidateID: candA})
			},
			req:         consensus.RequestVoteRequest{Term: 3, CandidateID: candB},
			wantGranted: false,
			wantTerm:    3,
		},
		{
			name: "higher term clears earlier vote",
			setup: func(n *consensus.Node) {
				n.HandleRequestVote(ctx, &consensus.RequestVoteRequest{Term: 3, CandidateID: candA})
			},
			req:         consensus.RequestVoteRequest{Term: 4, CandidateID: candB},
			wantGranted: true,
			wantTerm:    4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _, _ := newTestNode(t)
			if tt.setup != nil {
				tt.setup(n)
			}

			resp := n.HandleRequestVote(ctx, &tt.req)
			if resp.Granted != tt.wantGranted {
				t.Errorf("Granted = %v, want %v", resp.Granted, tt.wantGranted)
			}
			if resp.Term != tt.wantTerm {
				t.Errorf("Term = %d, want %d", resp.Term, tt.wantTerm)
			}
		})
	}
}

func TestHandleRequestVote_PersistsBeforeResponding(t *testing.T) {
	ctx := context.Background()
	n, self, st := newTestNode(t)
	cand := id.NewNodeID().String()

	resp := n.HandleRequestVote(ctx, &consensus.RequestVoteRequest{Term: 2, CandidateID: cand})
	if !resp.Granted {
		t.Fatal("vote not granted")
	}

	hs, err := st.LoadHardState(ctx, self)
	if err != nil {
		t.Fatalf("LoadHardState: %v", err)
	}
	if hs.Term != 2 || hs.VotedFor != cand {
		t.Errorf("persisted state = %+v, want term 2 voted for %s", hs, cand)
	}
}

func TestHandleAppendEntries_TermRules(t *testing.T) {
	ctx := context.Background()
	leader := id.NewNodeID()

	n, _, _ := newTestNode(t)

	resp := n.HandleAppendEntries(ctx, &consensus.AppendEntriesRequest{Term: 3, LeaderID: leader.String()})
	if !resp.Success || resp.Term != 3 {
		t.Fatalf("heartbeat at higher term = %+v, want success at term 3", resp)
	}
	if got, ok := n.Leader(); !ok || got.String() != leader.String() {
		t.Errorf("Leader() = %v, %v, want %v", got, ok, leader)
	}

	resp = n.HandleAppendEntries(ctx, &consensus.AppendEntriesRequest{Term: 2, LeaderID: leader.String()})
	if resp.Success {
		t.Error("stale heartbeat accepted")
	}
	if resp.Term != 3 {
		t.Errorf("stale heartbeat response term = %d, want 3", resp.Term)
	}
}

func TestCampaign_SingleNodeWinsImmediately(t *testing.T) {
	n, _, _ := newTestNode(t)

	if err := n.Campaign(context.Background()); err != nil {
		t.Fatalf("Campaign: %v", err)
	}
	if n.Role() != consensus.Leader {
		t.Errorf("Role = %v, want Leader", n.Role())
	}
	if n.Term() != 1 {
		t.Errorf("Term = %d, want 1", n.Term())
	}
}

func TestCampaign_UnreachablePeersNoQuorum(t *testing.T) {
	// Two unreachable peers: one self-vote out of a quorum of two.
	n, _, _ := newTestNode(t, id.NewNodeID(), id.NewNodeID())

	err := n.Campaign(context.Background())
	if err == nil {
		t.Fatal("Campaign succeeded without quorum")
	}
	if !errors.Is(err, consensus.ErrNoQuorum) && !errors.Is(err, consensus.ErrElectionFailed) {
		t.Errorf("Campaign error = %v, want ErrNoQuorum or ErrElectionFailed", err)
	}
	if n.Role() == consensus.Leader {
		t.Error("became leader without quorum")
	}
}

func TestCandidate_YieldsToLeaderOfSameTerm(t *testing.T) {
	ctx := context.Background()
	n, _, _ := newTestNode(t, id.NewNodeID(), id.NewNodeID())

	_ = n.Campaign(ctx) // fails, node stays candidate at term 1
	if n.Role() != consensus.Candidate {
		t.Fatalf("Role after failed campaign = %v, want Candidate", n.Role())
	}

	leader := id.NewNodeID()
	resp := n.HandleAppendEntries(ctx, &consensus.AppendEntriesRequest{Term: n.Term(), LeaderID: leader.String()})
	if !resp.Success {
		t.Fatal("candidate rejected heartbeat at its own term")
	}
	if n.Role() != consensus.Follower {
		t.Errorf("Role = %v, want Follower", n.Role())
	}
}

func TestLeader_StepsDownOnHigherTermVote(t *testing.T) {
	ctx := context.Background()
	n, _, _ := newTestNode(t)

	if err := n.Campaign(ctx); err != nil {
		t.Fatalf("Campaign: %v", err)
	}

	cand := id.NewNodeID().String()
	resp := n.HandleRequestVote(ctx, &consensus.RequestVoteRequest{Term: n.Term() + 1, CandidateID: cand})
	if !resp.Granted {
		t.Fatal("higher-term vote denied")
	}
	if n.Role() != consensus.Follower {
		t.Errorf("Role = %v, want Follower after higher term", n.Role())
	}
}

func TestRestart_ResumesPersistedTermAndVote(t *testing.T) {
	ctx := context.Background()
	self := id.NewNodeID()
	st := memory.New()
	net := transportmem.NewNetwork()
	peers := []id.NodeID{id.NewNodeID(), id.NewNodeID()}
	peersFn := func() []id.NodeID { return peers }

	candA := id.NewNodeID().String()
	candB := id.NewNodeID().String()

	// First incarnation: grant candidate A the vote for term 5.
	first, err := consensus.New(self, st, net.Node(self), peersFn,
		consensus.WithConfig(fastConfig()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if resp := first.HandleRequestVote(ctx, &consensus.RequestVoteRequest{Term: 5, CandidateID: candA}); !resp.Granted {
		t.Fatal("vote not granted")
	}

	// Second incarnation on the same store. Election timeouts are pushed
	// out so no campaign can move the term during the assertions.
	cfg := fastConfig()
	cfg.ElectionTimeoutMin = 5 * time.Second
	cfg.ElectionTimeoutMax = 10 * time.Second
	second, err := consensus.New(self, st, net.Node(self), peersFn,
		consensus.WithConfig(cfg),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = second.Stop(stopCtx)
	})

	if second.Term() != 5 {
		t.Fatalf("Term after restart = %d, want 5", second.Term())
	}

	// The spent vote must deny any other candidate in the same term,
	// while the original candidate keeps its grant.
	if resp := second.HandleRequestVote(ctx, &consensus.RequestVoteRequest{Term: 5, CandidateID: candB}); resp.Granted {
		t.Error("restarted node granted a second vote in the same term")
	}
	if resp := second.HandleRequestVote(ctx, &consensus.RequestVoteRequest{Term: 5, CandidateID: candA}); !resp.Granted {
		t.Error("restarted node denied the revote for the original candidate")
	}
}

func TestConfirmLeadership_NotLeader(t *testing.T) {
	n, _, _ := newTestNode(t)
	if err := n.ConfirmLeadership(context.Background()); !errors.Is(err, consensus.ErrNotLeader) {
		t.Errorf("ConfirmLeadership = %v, want ErrNotLeader", err)
	}
}
