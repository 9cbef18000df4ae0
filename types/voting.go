package types

import "time"

// VotingRound tracks the approval vote for one transaction (§3). Exactly one active round
// exists per transaction at a time.
type VotingRound struct {
	ID            int64
	TxID          TxId
	RoundNumber   int
	TotalNodes    int
	Threshold     int
	VotesReceived int
	Approved      bool
	Completed     bool
	StartedAt     time.Time
	CompletedAt   *time.Time
	TimeoutAt     time.Time
}

// Valid checks the §3 invariants: votes_received ≤ total_nodes; approved ⇒ votes_received ≥
// threshold; completed ⇒ completed_at set.
func (v *VotingRound) Valid() error {
	if v.VotesReceived > v.TotalNodes {
		return errInvalidTransaction("voting round %d: votes_received %d > total_nodes %d",
			v.ID, v.VotesReceived, v.TotalNodes)
	}
	if v.Approved && v.VotesReceived < v.Threshold {
		return errInvalidTransaction("voting round %d: approved with votes_received %d < threshold %d",
			v.ID, v.VotesReceived, v.Threshold)
	}
	if v.Completed && v.CompletedAt == nil {
		return errInvalidTransaction("voting round %d: completed without completed_at", v.ID)
	}
	return nil
}

// VoteValue is the value a node is attesting to (approve/reject carries a payload hash so votes
// on different candidate transactions can be told apart; see Vote.Value).
type VoteValue string

// Vote is a single node's ballot on a voting round. Uniqueness of (RoundID, NodeID) is enforced
// by the durable store's unique constraint (§5) — a second vote from the same node on the same
// round is a Byzantine violation, which vote.Processor detects when the store rejects the write.
type Vote struct {
	TxID      TxId
	NodeID    NodeId
	RoundID   int64
	Approve   bool
	Value     VoteValue
	Signature []byte
	PublicKey []byte
	Timestamp time.Time
}

// ByzantineViolationKind enumerates the violation taxonomy (§4.6).
type ByzantineViolationKind string

const (
	ViolationDoubleVote       ByzantineViolationKind = "double_vote"
	ViolationInvalidSignature ByzantineViolationKind = "invalid_signature"
	ViolationTimeout          ByzantineViolationKind = "timeout"
	ViolationMalformedMessage ByzantineViolationKind = "malformed_message"
	ViolationMinorityVote     ByzantineViolationKind = "minority_vote"
)

// ByzantineViolation is the persisted evidence record for a detected violation.
type ByzantineViolation struct {
	ID         int64
	NodeID     NodeId
	Kind       ByzantineViolationKind
	Evidence   []byte // JSON
	DetectedAt time.Time
}
