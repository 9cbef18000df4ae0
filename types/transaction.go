package types

import (
	"fmt"
	"time"
)

// TransactionState is one of the 11 states in the lifecycle FSM (§4.4).
type TransactionState string

const (
	StatePending          TransactionState = "pending"
	StateVoting           TransactionState = "voting"
	StateApproved         TransactionState = "approved"
	StateSigning          TransactionState = "signing"
	StateSigned           TransactionState = "signed"
	StateBroadcasting     TransactionState = "broadcasting"
	StateConfirmed        TransactionState = "confirmed"
	StateFailed           TransactionState = "failed"
	StateRejected         TransactionState = "rejected"
	StateAbortedByzantine TransactionState = "aborted_byzantine"

	// Legacy/intermediate synonyms kept for audit-log expressibility (§4.4).
	StateCollecting       TransactionState = "collecting"
	StateThresholdReached TransactionState = "threshold_reached"
	StateSubmitted        TransactionState = "submitted"
)

// Terminal reports whether no further FSM transition is legal from this state.
func (s TransactionState) Terminal() bool {
	switch s {
	case StateConfirmed, StateFailed, StateRejected, StateAbortedByzantine:
		return true
	default:
		return false
	}
}

// transitions enumerates the legal edges of the FSM graph (§4.4 diagram), used to validate state
// monotonicity (testable property 1) and to reject illegal transitions defensively.
var transitions = map[TransactionState]map[TransactionState]bool{
	StatePending:      {StateVoting: true, StateFailed: true},
	StateVoting:       {StateApproved: true, StateFailed: true, StateRejected: true},
	StateApproved:     {StateSigning: true, StateFailed: true},
	StateSigning:      {StateSigned: true, StateFailed: true},
	StateSigned:       {StateBroadcasting: true, StateFailed: true},
	StateBroadcasting: {StateConfirmed: true, StateFailed: true},
}

// CanTransition reports whether moving from `from` to `to` is a legal FSM edge.
func CanTransition(from, to TransactionState) bool {
	if from == to {
		return false
	}
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Transaction is the durable record driven through the lifecycle FSM.
type Transaction struct {
	ID               TxId
	Txid             string // on-chain txid, set once broadcast
	State            TransactionState
	UnsignedBytes    []byte
	SignedBytes      []byte // present iff State has reached Signed or later
	Recipient        string
	AmountSats       int64
	FeeSats          int64
	OpReturnMetadata []byte // <= 80 bytes, optional
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Confirmations    int64
}

// Valid checks the invariants from §3: `state=Signed ⇒ signed_bytes present`,
// `state=Confirmed ⇒ confirmations ≥ required`.
func (t *Transaction) Valid(requiredConfirmations int64) error {
	if stateAtLeast(t.State, StateSigned) && len(t.SignedBytes) == 0 {
		return errInvalidTransaction("state %s requires signed_bytes", t.State)
	}
	if t.State == StateConfirmed && t.Confirmations < requiredConfirmations {
		return errInvalidTransaction("state confirmed requires confirmations >= %d, got %d",
			requiredConfirmations, t.Confirmations)
	}
	return nil
}

// stateAtLeast reports whether s is Signed, Broadcasting, or Confirmed — the part of the FSM
// where signed_bytes must already be present.
func stateAtLeast(s TransactionState, floor TransactionState) bool {
	order := map[TransactionState]int{
		StateSigned: 0, StateBroadcasting: 1, StateConfirmed: 2,
	}
	sv, sok := order[s]
	fv, fok := order[floor]
	if !sok || !fok {
		return false
	}
	return sv >= fv
}

type invalidTransactionError struct{ msg string }

func (e *invalidTransactionError) Error() string { return e.msg }

func errInvalidTransaction(format string, args ...interface{}) error {
	return &invalidTransactionError{msg: fmt.Sprintf(format, args...)}
}
