package vote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/mpcwallet/orchestrator/types"
)

// DefaultEvaluator is the production Evaluator: it approves every transaction it is asked to
// vote on (transaction policy/validation rules are out of scope, §1 Non-goals) but still
// attests to a specific candidate by hashing the fields that define what is being signed, so
// Analyzer's MinorityVote detection can tell a node voting on a stale or forked view of the
// same transaction apart from one voting on the current one.
type DefaultEvaluator struct{}

func NewDefaultEvaluator() *DefaultEvaluator { return &DefaultEvaluator{} }

func (e *DefaultEvaluator) Evaluate(ctx context.Context, tx types.Transaction) (bool, types.VoteValue) {
	return true, candidateValue(tx)
}

// candidateValue hashes the fields a vote is actually attesting to: where the funds go, how
// much, and the unsigned bytes the engine will sign, so two nodes holding different candidate
// transactions for the same TxID never produce the same VoteValue.
func candidateValue(tx types.Transaction) types.VoteValue {
	payload, _ := json.Marshal(struct {
		Recipient        string
		AmountSats       int64
		OpReturnMetadata []byte
		UnsignedBytes    []byte
	}{tx.Recipient, tx.AmountSats, tx.OpReturnMetadata, tx.UnsignedBytes})
	sum := sha256.Sum256(payload)
	return types.VoteValue(hex.EncodeToString(sum[:]))
}
