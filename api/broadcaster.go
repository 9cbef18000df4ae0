package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mpcwallet/orchestrator/logs"
	"github.com/mpcwallet/orchestrator/types"
)

var log, _ = logs.Get("API ")

// PeerDirectory is the static node-to-base-URL table the join broadcaster and the internal
// client helpers use to reach peers, the same shape vote.Directory exposes — duplicated locally
// rather than imported so this package's HTTP fan-out concern does not depend on vote/'s voting
// concern for an unrelated lookup table. A single *vote.StaticDirectory instance satisfies both
// interfaces structurally, so the orchestrator process wires one directory into everything.
type PeerDirectory interface {
	BaseURL(node types.NodeId) (string, bool)
	Peers() []types.NodeId
}

// dkgJoinRequest/auxInfoJoinRequest/presigJoinRequest/signingJoinRequest are the wire bodies
// named by §6 for the four internal join endpoints.
type dkgJoinRequest struct {
	SessionID  types.SessionId `json:"session_id"`
	Protocol   types.Protocol  `json:"protocol"`
	Threshold  int             `json:"threshold"`
	TotalNodes int             `json:"total_nodes"`
}

type auxInfoJoinRequest struct {
	SessionID  types.SessionId `json:"session_id"`
	NumParties int             `json:"num_parties"`
}

type presigJoinRequest struct {
	SessionID    types.SessionId `json:"session_id"`
	Participants []types.NodeId  `json:"participants"`
}

type signingJoinRequest struct {
	SessionID   types.SessionId `json:"session_id"`
	TxID        types.TxId      `json:"tx_id"`
	Protocol    types.Protocol  `json:"protocol"`
	UnsignedTx  []byte          `json:"unsigned_tx"`
	MessageHash []byte          `json:"message_hash"`
}

// HTTPJoinBroadcaster implements ceremony.JoinBroadcaster (§4.3.1 step 3): fire-and-forget,
// best-effort, one goroutine and a 5s-timeout request per peer, mirroring vote.HTTPTrigger's own
// solicitPeers idiom.
type HTTPJoinBroadcaster struct {
	self   types.NodeId
	peers  PeerDirectory
	client *http.Client
}

func NewHTTPJoinBroadcaster(self types.NodeId, peers PeerDirectory, client *http.Client) *HTTPJoinBroadcaster {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPJoinBroadcaster{self: self, peers: peers, client: client}
}

func (b *HTTPJoinBroadcaster) BroadcastJoin(ctx context.Context, kind types.CeremonyKind, sessionID types.SessionId, protocol types.Protocol, threshold, totalNodes int, participants []types.NodeId) {
	path, body, err := b.joinRequest(kind, sessionID, protocol, threshold, totalNodes, participants)
	if err != nil {
		log.Warnf("BroadcastJoin: encoding join request for session %s: %s", sessionID, err)
		return
	}

	for _, peer := range participants {
		if peer == b.self {
			continue
		}
		base, ok := b.peers.BaseURL(peer)
		if !ok {
			continue
		}
		go func(base string) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
			if err != nil {
				return
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := b.client.Do(req)
			if err != nil {
				log.Warnf("BroadcastJoin: reaching %s for session %s: %s", base, sessionID, err)
				return
			}
			resp.Body.Close()
		}(base)
	}
}

func (b *HTTPJoinBroadcaster) joinRequest(kind types.CeremonyKind, sessionID types.SessionId, protocol types.Protocol, threshold, totalNodes int, participants []types.NodeId) (string, []byte, error) {
	switch kind {
	case types.CeremonyDKG:
		body, err := json.Marshal(dkgJoinRequest{SessionID: sessionID, Protocol: protocol, Threshold: threshold, TotalNodes: totalNodes})
		return "/internal/dkg-join", body, err
	case types.CeremonyAuxInfo:
		body, err := json.Marshal(auxInfoJoinRequest{SessionID: sessionID, NumParties: totalNodes})
		return "/internal/aux-info-join", body, err
	case types.CeremonyPresig:
		body, err := json.Marshal(presigJoinRequest{SessionID: sessionID, Participants: participants})
		return "/internal/presig-join", body, err
	case types.CeremonySigning:
		body, err := json.Marshal(signingJoinRequest{SessionID: sessionID, Protocol: protocol})
		return "/internal/signing-join", body, err
	default:
		body, err := json.Marshal(dkgJoinRequest{SessionID: sessionID, Protocol: protocol, Threshold: threshold, TotalNodes: totalNodes})
		return "/internal/dkg-join", body, err
	}
}
