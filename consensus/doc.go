// Package consensus implements leader election: the Raft election
// protocol without a replicated log. Exactly one leader can exist per
// term; a node that observes a higher term steps down immediately.
//
// A Node is Follower, Candidate, or Leader. Followers expect periodic
// AppendEntries heartbeats from the leader; a follower that hears nothing
// for a randomized election timeout becomes a candidate, increments its
// term, votes for itself, and solicits votes from its peers. A majority
// of the current cluster (self included) wins the election. Split votes
// resolve through timeout randomization — each retry draws a fresh
// timeout, so colliding candidates eventually diverge.
//
// Term and vote are persisted through store.HardStateStore before they
// become externally visible. A node that forgot its vote could vote twice
// in one term, which would allow two leaders.
//
// Outbound peer RPCs go through per-peer circuit breakers and rate
// limiters so a dead peer does not soak up election time budget.
package consensus
