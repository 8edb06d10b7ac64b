package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/accord/id"
	"github.com/xraph/accord/store"
)

// ── Hard state model ──────────────────────────────────────────────

type hardStateModel struct {
	bun.BaseModel `bun:"table:accord_hard_state"`

	NodeID string `bun:"node_id,pk"`
	// Stored as BIGINT: terms above 1<<63-1 would wrap, a bound real term
	// counters never approach (one term per millisecond for 292M years).
	Term      int64     `bun:"term,notnull,default:0"`
	VotedFor  string    `bun:"voted_for,notnull,default:''"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// ── Member model ──────────────────────────────────────────────────

type memberModel struct {
	bun.BaseModel `bun:"table:accord_members"`

	NodeID    string    `bun:"node_id,pk"`
	Address   string    `bun:"address,notnull"`
	JoinedAt  time.Time `bun:"joined_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func toMemberModel(m *store.Member) *memberModel {
	return &memberModel{
		NodeID:   m.NodeID.String(),
		Address:  m.Address,
		JoinedAt: m.JoinedAt,
	}
}

func fromMemberModel(m *memberModel) (*store.Member, error) {
	nodeID, err := id.ParseNodeID(m.NodeID)
	if err != nil {
		return nil, fmt.Errorf("accord/bun: parse member node id %q: %w", m.NodeID, err)
	}

	return &store.Member{
		NodeID:   nodeID,
		Address:  m.Address,
		JoinedAt: m.JoinedAt,
	}, nil
}
