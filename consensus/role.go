package consensus

// Role is a node's position in the election protocol.
type Role int

const (
	// Follower accepts heartbeats and grants votes.
	Follower Role = iota
	// Candidate is soliciting votes for its term.
	Candidate
	// Leader sends heartbeats to assert its term.
	Leader
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}
