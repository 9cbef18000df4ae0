package vote

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/mpcwallet/orchestrator/types"
)

// votePayload builds the canonical bytes a node signs to attest to a vote, so a forwarded or
// replayed vote can be told apart from a genuinely re-signed one.
func votePayload(txID types.TxId, nodeID types.NodeId, roundID int64, approve bool, value types.VoteValue) []byte {
	s := fmt.Sprintf("%s|%d|%d|%t|%s", txID, nodeID, roundID, approve, value)
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// signVote signs vote's canonical payload with priv, filling in Signature and PublicKey.
func signVote(priv *btcec.PrivateKey, vote *types.Vote) error {
	hash := votePayload(vote.TxID, vote.NodeID, vote.RoundID, vote.Approve, vote.Value)
	sig := ecdsa.Sign(priv, hash)
	vote.Signature = sig.Serialize()
	vote.PublicKey = priv.PubKey().SerializeCompressed()
	return nil
}

// verifyVoteSignature reports whether vote's Signature validates against its own PublicKey over
// the canonical payload. A malformed or unparseable signature/key is treated as invalid rather
// than erroring, since both are attacker-controlled input (§4.6 ByzantineViolationKind).
func verifyVoteSignature(vote *types.Vote) bool {
	pub, err := btcec.ParsePubKey(vote.PublicKey)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(vote.Signature)
	if err != nil {
		return false
	}
	hash := votePayload(vote.TxID, vote.NodeID, vote.RoundID, vote.Approve, vote.Value)
	return sig.Verify(hash, pub)
}
