package consensus

// RPC payloads carried in transport.Frame.Data. Node IDs travel as TypeID
// strings so every codec can round-trip them.

// RequestVoteRequest solicits a vote for CandidateID in Term.
type RequestVoteRequest struct {
	Term        uint64 `json:"term" msgpack:"term"`
	CandidateID string `json:"candidate_id" msgpack:"candidate_id"`
}

// RequestVoteResponse reports whether the vote was granted. Term is the
// responder's current term so a stale candidate can step down.
type RequestVoteResponse struct {
	Term    uint64 `json:"term" msgpack:"term"`
	Granted bool   `json:"granted" msgpack:"granted"`
}

// AppendEntriesRequest is the leader heartbeat. It carries no entries —
// there is no replicated log — only the leader's term and identity.
type AppendEntriesRequest struct {
	Term     uint64 `json:"term" msgpack:"term"`
	LeaderID string `json:"leader_id" msgpack:"leader_id"`
}

// AppendEntriesResponse acknowledges a heartbeat. Success is false when
// the sender's term is stale.
type AppendEntriesResponse struct {
	Term    uint64 `json:"term" msgpack:"term"`
	Success bool   `json:"success" msgpack:"success"`
}
