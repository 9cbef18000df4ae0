// Package fsm implements the transaction lifecycle orchestrator (§4.4): an 11-state machine per
// transaction driven by one cooperative poller per node, plus a redundant timeout monitor.
// Grounded on original_source's orchestrator/src/service.rs for the phase-worker shape and the
// teacher's ticker-driven background-task idiom (cmd/kaspaminer's mineLoop, generalized from a
// one-shot mining loop to a multi-phase poller over many durable rows).
package fsm

import (
	"context"
	"time"

	"github.com/mpcwallet/orchestrator/types"
)

// Store is the durable relational facet the FSM needs. Implemented concretely by reldb/.
type Store interface {
	GetTransaction(ctx context.Context, txID types.TxId) (*types.Transaction, bool, error)
	GetTransactionsByState(ctx context.Context, state types.TransactionState) ([]types.Transaction, error)
	UpdateTransactionState(ctx context.Context, txID types.TxId, newState types.TransactionState) error
	SetSignedTransaction(ctx context.Context, txID types.TxId, signedBytes []byte) error
	SetBroadcastTxid(ctx context.Context, txID types.TxId, txid string) error
	SetConfirmations(ctx context.Context, txID types.TxId, confirmations int64) error
	RecordAuditEvent(ctx context.Context, txID types.TxId, event string, detail string) error
}

// VotingStore is the durable facet for voting rounds, kept separate from Store because it is
// also the facet vote.Processor writes through on every incoming vote (§4.6).
type VotingStore interface {
	CreateVotingRound(ctx context.Context, round *types.VotingRound) error
	GetActiveVotingRound(ctx context.Context, txID types.TxId) (*types.VotingRound, bool, error)
	CompleteVotingRound(ctx context.Context, roundID int64, approved bool) error

	// IncrementVoteCount bumps a round's votes_received by one. Called by vote.Processor after
	// accepting a non-duplicate vote, never by the poller itself.
	IncrementVoteCount(ctx context.Context, roundID int64) error
}

// SigningCoordinator produces signed transaction bytes for an Approved transaction, consuming
// exactly one presignature from the pool. Implemented concretely by wiring presig/ + ceremony/
// behind the signing ceremony kind; out of scope for the FSM itself (§1 Non-goals: the real MPC
// math), which only calls through this contract.
type SigningCoordinator interface {
	Sign(ctx context.Context, tx types.Transaction) (signedBytes []byte, err error)
}

// BitcoinClient is the out-of-scope collaborator (§1 Non-goals) that broadcasts a signed
// transaction and reports confirmations.
type BitcoinClient interface {
	Broadcast(ctx context.Context, signedBytes []byte) (txid string, err error)
	Confirmations(ctx context.Context, txid string) (int64, error)
}

// VoteTrigger solicits votes from peers for a (txID, round) pair over HTTP (§4.4: "voting
// solicitations are delivered via the vote-trigger channel / HTTP vote-request endpoint").
// Implemented concretely by vote/ and api/.
type VoteTrigger interface {
	Trigger(ctx context.Context, txID types.TxId, roundNumber int)
}

// RoundAnalyzer inspects a just-completed voting round for hindsight-only Byzantine signals
// (minority votes, silent non-voters) that can't be judged until every vote is in. Optional:
// a Poller with no analyzer set simply skips this step. Implemented concretely by vote/.
type RoundAnalyzer interface {
	AnalyzeRound(ctx context.Context, round *types.VotingRound) error
}

// Config holds the FSM's tunables, all named with the defaults given in §4.4/§4.5.
type Config struct {
	PollInterval          time.Duration // default 5s
	VotingTimeout         time.Duration // default 60s
	RequiredConfirmations int64         // default 6
	GCAge                 time.Duration // default 1h: catch-all for the voting, signing and broadcasting phases

	// TimeoutMonitorInterval and the per-phase budgets drive the separate, deliberately
	// redundant TimeoutMonitor (§4.4/§5).
	TimeoutMonitorInterval time.Duration // default 10s
	VotingBudget           time.Duration // default 60s
	SigningBudget          time.Duration // default 120s
	BroadcastingBudget     time.Duration // default 30s
}

// DefaultConfig returns the configuration named by §4.4/§4.5's defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:           5 * time.Second,
		VotingTimeout:          60 * time.Second,
		RequiredConfirmations:  6,
		GCAge:                  time.Hour,
		TimeoutMonitorInterval: 10 * time.Second,
		VotingBudget:           60 * time.Second,
		SigningBudget:          120 * time.Second,
		BroadcastingBudget:     30 * time.Second,
	}
}
