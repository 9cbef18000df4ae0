package reldb

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mpcwallet/orchestrator/types"
)

// The model types below are gorm's record shape for the relational schema named in §10.2:
// transactions, voting_rounds, votes(round_id, node_id unique), byzantine_violations,
// node_status, audit_log, dkg_ceremonies, key_shares(session_id, node_id),
// aux_info(session_id, node_id), presignature_usage.

// transactionModel is the transactions table row.
type transactionModel struct {
	TxID             string `gorm:"primary_key;column:tx_id"`
	Txid             string `gorm:"column:txid"`
	State            string `gorm:"column:state;index"`
	UnsignedBytes    []byte `gorm:"column:unsigned_bytes"`
	SignedBytes      []byte `gorm:"column:signed_bytes"`
	Recipient        string `gorm:"column:recipient"`
	AmountSats       int64  `gorm:"column:amount_sats"`
	FeeSats          int64  `gorm:"column:fee_sats"`
	OpReturnMetadata []byte `gorm:"column:op_return_metadata"`
	Confirmations    int64  `gorm:"column:confirmations"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (transactionModel) TableName() string { return "transactions" }

func (m *transactionModel) toDomain() *types.Transaction {
	return &types.Transaction{
		ID:               types.TxId(m.TxID),
		Txid:             m.Txid,
		State:            types.TransactionState(m.State),
		UnsignedBytes:    m.UnsignedBytes,
		SignedBytes:      m.SignedBytes,
		Recipient:        m.Recipient,
		AmountSats:       m.AmountSats,
		FeeSats:          m.FeeSats,
		OpReturnMetadata: m.OpReturnMetadata,
		Confirmations:    m.Confirmations,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func transactionModelFrom(tx *types.Transaction) *transactionModel {
	return &transactionModel{
		TxID:             string(tx.ID),
		Txid:             tx.Txid,
		State:            string(tx.State),
		UnsignedBytes:    tx.UnsignedBytes,
		SignedBytes:      tx.SignedBytes,
		Recipient:        tx.Recipient,
		AmountSats:       tx.AmountSats,
		FeeSats:          tx.FeeSats,
		OpReturnMetadata: tx.OpReturnMetadata,
		Confirmations:    tx.Confirmations,
	}
}

// votingRoundModel is the voting_rounds table row.
type votingRoundModel struct {
	ID            int64  `gorm:"primary_key"`
	TxID          string `gorm:"column:tx_id;index"`
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

func (votingRoundModel) TableName() string { return "voting_rounds" }

func (m *votingRoundModel) toDomain() *types.VotingRound {
	return &types.VotingRound{
		ID:            m.ID,
		TxID:          types.TxId(m.TxID),
		RoundNumber:   m.RoundNumber,
		TotalNodes:    m.TotalNodes,
		Threshold:     m.Threshold,
		VotesReceived: m.VotesReceived,
		Approved:      m.Approved,
		Completed:     m.Completed,
		StartedAt:     m.StartedAt,
		CompletedAt:   m.CompletedAt,
		TimeoutAt:     m.TimeoutAt,
	}
}

// voteModel is the votes table row. The (round_id, node_id) unique index is the durable
// enforcement of "one ballot per node per round" (§3); vote.Processor's double-vote detection
// relies on it, treating RecordVote's accepted=false as a double vote.
type voteModel struct {
	ID        int64  `gorm:"primary_key"`
	TxID      string `gorm:"column:tx_id"`
	RoundID   int64  `gorm:"column:round_id;unique_index:idx_votes_round_node"`
	NodeID    uint32 `gorm:"column:node_id;unique_index:idx_votes_round_node"`
	Approve   bool
	Value     string
	Signature []byte
	PublicKey []byte
	Timestamp time.Time
}

func (voteModel) TableName() string { return "votes" }

func voteModelFrom(v *types.Vote) *voteModel {
	return &voteModel{
		TxID:      string(v.TxID),
		RoundID:   v.RoundID,
		NodeID:    uint32(v.NodeID),
		Approve:   v.Approve,
		Value:     string(v.Value),
		Signature: v.Signature,
		PublicKey: v.PublicKey,
		Timestamp: v.Timestamp,
	}
}

func (m *voteModel) toDomain() types.Vote {
	return types.Vote{
		TxID:      types.TxId(m.TxID),
		NodeID:    types.NodeId(m.NodeID),
		RoundID:   m.RoundID,
		Approve:   m.Approve,
		Value:     types.VoteValue(m.Value),
		Signature: m.Signature,
		PublicKey: m.PublicKey,
		Timestamp: m.Timestamp,
	}
}

// byzantineViolationModel is the byzantine_violations table row.
type byzantineViolationModel struct {
	ID         int64  `gorm:"primary_key"`
	NodeID     uint32 `gorm:"column:node_id;index"`
	Kind       string `gorm:"column:kind"`
	Evidence   []byte `gorm:"column:evidence"`
	DetectedAt time.Time
}

func (byzantineViolationModel) TableName() string { return "byzantine_violations" }

func byzantineViolationModelFrom(v *types.ByzantineViolation) *byzantineViolationModel {
	return &byzantineViolationModel{
		NodeID:     uint32(v.NodeID),
		Kind:       string(v.Kind),
		Evidence:   v.Evidence,
		DetectedAt: v.DetectedAt,
	}
}

// nodeStatusModel is the node_status audit table row: a durable history of status transitions a
// node has gone through (banned, suspected down), distinct from coordstore's own ephemeral,
// TTL'd liveness keys, which stay the single source of truth for "is this node live right now".
type nodeStatusModel struct {
	ID         int64  `gorm:"primary_key"`
	NodeID     uint32 `gorm:"column:node_id;index"`
	Status     string `gorm:"column:status"`
	Detail     string `gorm:"column:detail"`
	RecordedAt time.Time
}

func (nodeStatusModel) TableName() string { return "node_status" }

// auditLogModel is the audit_log table row, one entry per FSM state transition or notable event
// (§4.4's RecordAuditEvent).
type auditLogModel struct {
	ID         int64  `gorm:"primary_key"`
	TxID       string `gorm:"column:tx_id;index"`
	Event      string `gorm:"column:event"`
	Detail     string `gorm:"column:detail"`
	RecordedAt time.Time
}

func (auditLogModel) TableName() string { return "audit_log" }

// ceremonyModel is the dkg_ceremonies table row: DKG, AuxInfo, Presig, and Signing ceremonies all
// share one schema (distinguished by Kind), matching the teacher's single `models.Transaction`
// shape covering every subnetwork's transactions rather than one table per kind.
type ceremonyModel struct {
	SessionID    string `gorm:"primary_key;column:session_id"`
	Protocol     string `gorm:"column:protocol"`
	Kind         string `gorm:"column:kind;index"`
	Threshold    int
	TotalNodes   int
	Participants string `gorm:"column:participants"` // comma-separated NodeIds
	Status       string `gorm:"column:status;index"`
	CurrentRound int    `gorm:"column:current_round"`
	StartedAt    time.Time
	CompletedAt  *time.Time
	PublicKey    []byte `gorm:"column:public_key"`
	Address      string `gorm:"column:address"`
	Error        string `gorm:"column:error"`
}

func (ceremonyModel) TableName() string { return "dkg_ceremonies" }

func encodeParticipants(nodes []types.NodeId) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = strconv.FormatUint(uint64(n), 10)
	}
	return strings.Join(parts, ",")
}

func decodeParticipants(s string) []types.NodeId {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	nodes := make([]types.NodeId, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			continue
		}
		nodes = append(nodes, types.NodeId(n))
	}
	return nodes
}

func ceremonyModelFrom(c *types.Ceremony) *ceremonyModel {
	return &ceremonyModel{
		SessionID:    c.SessionID.String(),
		Protocol:     string(c.Protocol),
		Kind:         string(c.Kind),
		Threshold:    c.Threshold,
		TotalNodes:   c.TotalNodes,
		Participants: encodeParticipants(c.Participants),
		Status:       string(c.Status),
		CurrentRound: c.CurrentRound,
		StartedAt:    c.StartedAt,
		CompletedAt:  c.CompletedAt,
		PublicKey:    c.PublicKey,
		Address:      c.Address,
		Error:        c.Error,
	}
}

func (m *ceremonyModel) toDomain() (*types.Ceremony, error) {
	sessionID, err := types.ParseSessionId(m.SessionID)
	if err != nil {
		return nil, err
	}
	return &types.Ceremony{
		SessionID:    sessionID,
		Protocol:     types.Protocol(m.Protocol),
		Kind:         types.CeremonyKind(m.Kind),
		Threshold:    m.Threshold,
		TotalNodes:   m.TotalNodes,
		Participants: decodeParticipants(m.Participants),
		Status:       types.CeremonyStatus(m.Status),
		CurrentRound: m.CurrentRound,
		StartedAt:    m.StartedAt,
		CompletedAt:  m.CompletedAt,
		PublicKey:    m.PublicKey,
		Address:      m.Address,
		Error:        m.Error,
	}, nil
}

// keyShareModel is the key_shares table row: each node's own encrypted share of a completed DKG.
// No write path populates it yet — the ceremony engine contract (§4.3.5) deliberately only
// produces a cluster PublicKey for DKG results, since the real per-party secret-share math is
// the MPC core the spec's Non-goals (§1) place out of scope. The table is kept in the schema and
// migration so a future real crypto engine has a place to write into without a schema change.
type keyShareModel struct {
	ID        int64  `gorm:"primary_key"`
	SessionID string `gorm:"column:session_id;unique_index:idx_keyshares_session_node"`
	NodeID    uint32 `gorm:"column:node_id;unique_index:idx_keyshares_session_node"`
	Share     []byte `gorm:"column:share"`
	CreatedAt time.Time
}

func (keyShareModel) TableName() string { return "key_shares" }

// auxInfoModel is the aux_info table row.
type auxInfoModel struct {
	ID        int64  `gorm:"primary_key"`
	SessionID string `gorm:"column:session_id;unique_index:idx_auxinfo_session_node"`
	NodeID    uint32 `gorm:"column:node_id;unique_index:idx_auxinfo_session_node"`
	Metadata  []byte `gorm:"column:metadata"`
	CreatedAt time.Time
}

func (auxInfoModel) TableName() string { return "aux_info" }

// presignatureModel is the pool's durable backing store, keyed by PresigId.
type presignatureModel struct {
	ID        string `gorm:"primary_key;column:id"`
	Protocol  string `gorm:"column:protocol;index"`
	Metadata  []byte `gorm:"column:metadata"`
	Used      bool   `gorm:"column:used;index"`
	CreatedAt time.Time
	UsedAt    *time.Time
}

func (presignatureModel) TableName() string { return "presignatures" }

func (m *presignatureModel) toDomain() (*types.Presignature, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	return &types.Presignature{
		ID:            types.PresigId(id),
		MetadataBytes: m.Metadata,
		CreatedAt:     m.CreatedAt,
		Used:          m.Used,
	}, nil
}

// presignatureUsageModel is the presignature_usage table row: one entry per Acquire call,
// backing Stats' hourly_usage figure (§4.5) without scanning the much larger presignatures table.
type presignatureUsageModel struct {
	ID             int64  `gorm:"primary_key"`
	PresignatureID string `gorm:"column:presignature_id;index"`
	Protocol       string `gorm:"column:protocol;index"`
	UsedAt         time.Time
}

func (presignatureUsageModel) TableName() string { return "presignature_usage" }
