// Package vote implements vote collection and Byzantine handling (§4.6): the per-transaction
// ballot processor that validates, counts, and deduplicates votes arriving at every node, and
// the vote-trigger side channel the FSM poller uses to solicit them. Grounded on
// original_source's orchestrator/src/vote_processor.rs for the double-vote/ban discipline and on
// the teacher's txscript/engine.go for ECDSA verification idiom (same btcec.S256() curve,
// repurposed from script verification to vote-signature verification).
package vote

import (
	"context"

	"github.com/mpcwallet/orchestrator/types"
)

// Store is the durable relational facet for votes and Byzantine evidence. Implemented
// concretely by reldb/. RecordVote reports accepted=false (not an error) when the unique
// (round_id, node_id) constraint would be violated — mirroring coordstore.Store's contention
// idiom of never erroring on a contended write.
type Store interface {
	RecordVote(ctx context.Context, vote *types.Vote) (accepted bool, err error)
	RecordViolation(ctx context.Context, violation *types.ByzantineViolation) error
	VotesForRound(ctx context.Context, roundID int64) ([]types.Vote, error)
}

// RoundStore is the narrow facet of fsm.VotingStore the processor needs to look up and advance
// the active round for a transaction. Structurally identical to fsm.VotingStore's corresponding
// methods so reldb's single VotingStore implementation satisfies both without adaptation.
type RoundStore interface {
	GetActiveVotingRound(ctx context.Context, txID types.TxId) (*types.VotingRound, bool, error)
	IncrementVoteCount(ctx context.Context, roundID int64) error
}

// TransactionReader is the narrow facet of fsm.Store the vote-trigger needs to look up the
// transaction it is soliciting votes on.
type TransactionReader interface {
	GetTransaction(ctx context.Context, txID types.TxId) (*types.Transaction, bool, error)
}

// StatusRecorder durably records a node status transition into the node_status audit table
// (§10.2 schema). Optional: a Processor with none set still bans correctly through
// coordstore's banned key alone, which remains the single source of truth ProcessVote's own
// isBanned check reads; the recorder only adds a queryable history of why.
type StatusRecorder interface {
	RecordNodeStatus(ctx context.Context, nodeID types.NodeId, status string, detail string) error
}
