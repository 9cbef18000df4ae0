package coordstore

import (
	"fmt"

	"github.com/mpcwallet/orchestrator/types"
)

// Key builders for the coordination-store key layout fixed by §6. Centralizing these avoids
// format-string drift between the ceremony coordinator, the presignature pool, and the vote
// processor, all of which read and write under these prefixes.

func VoteKey(txID types.TxId, nodeID types.NodeId) string {
	return fmt.Sprintf("/votes/%s/%s", txID, nodeID)
}

func VoteCountKey(txID types.TxId, value types.VoteValue) string {
	return fmt.Sprintf("/vote_counts/%s/%s", txID, value)
}

func TransactionStatusKey(txID types.TxId) string {
	return fmt.Sprintf("/transaction_status/%s", txID)
}

const (
	LockDKG              = "/locks/dkg"
	LockPresigGeneration = "/locks/presig-generation"
)

func LockSigningKey(txID types.TxId) string {
	return fmt.Sprintf("/locks/signing/%s", txID)
}

func LockDKGSessionKey(sessionID types.SessionId) string {
	return fmt.Sprintf("/locks/dkg-session/%s", sessionID)
}

func NodeStatusKey(nodeID types.NodeId) string {
	return fmt.Sprintf("/nodes/%s/status", nodeID)
}

const (
	ClusterThreshold = clusterThresholdKey
	ClusterPeers     = "/cluster/peers"
)

func ClusterPublicKeyKey(protocol types.Protocol) string {
	return fmt.Sprintf("/cluster/public_keys/%s", protocol)
}

func ClusterDKGConfigKey(protocol types.Protocol) string {
	return fmt.Sprintf("/cluster/dkg/%s/config", protocol)
}

// ReadyBarrierKey is the well-known key each ceremony participant writes to signal it has
// registered its router session (§4.3.1 step 5).
func ReadyBarrierKey(kind types.CeremonyKind, sessionID types.SessionId, nodeID types.NodeId) string {
	return fmt.Sprintf("/%s/%s/ready/%s", kind, sessionID, nodeID)
}

func ReadyBarrierPrefix(kind types.CeremonyKind, sessionID types.SessionId) string {
	return fmt.Sprintf("/%s/%s/ready/", kind, sessionID)
}

func BannedKey(nodeID types.NodeId) string {
	return fmt.Sprintf("/banned/%s", nodeID)
}

const (
	CounterTransactions  = "/counters/transactions"
	CounterPresignatures = "/counters/presignatures"
	CounterByzantine     = "/counters/byzantine-events"
)
