package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mpcwallet/orchestrator/ceremony"
	cerrors "github.com/mpcwallet/orchestrator/errors"
	"github.com/mpcwallet/orchestrator/types"
)

// internalEngineTimeout bounds every participant-side engine run. The coordinator side picks its
// own per-kind timeout when it admits a ceremony; a joining participant only needs to not wait
// forever on a peer that never finishes (§4.3.4's general failure-semantics timeout budget).
const internalEngineTimeout = 90 * time.Second

// addInternalRoutes registers the node-to-node §6 surface: the four join endpoints
// ceremony.JoinBroadcaster fans out to, the vote-request prompt vote.HTTPTrigger solicits peers
// with, and the aux-ready poll presig.Pool's peers (indirectly, via an operator or another node)
// can use to check this node's own readiness.
func (s *Server) addInternalRoutes() {
	s.handle("/internal/vote-request", http.MethodPost, s.voteRequest)
	s.handle("/internal/dkg-join", http.MethodPost, s.dkgJoin)
	s.handle("/internal/aux-info-join", http.MethodPost, s.auxInfoJoin)
	s.handle("/internal/presig-join", http.MethodPost, s.presigJoin)
	s.handle("/internal/signing-join", http.MethodPost, s.signingJoin)
	s.handle("/internal/aux-ready", http.MethodGet, s.auxReady)
}

// voteRequest implements POST /internal/vote-request (§6): shuttles the prompt straight into
// HTTPTrigger.CastVote, which computes and records this node's own ballot locally. Votes
// themselves never cross the wire; only the prompt to go cast one does.
func (s *Server) voteRequest(r *http.Request) (interface{}, *HandlerError) {
	var req voteRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, badRequest("decoding request body: %s", err)
	}
	if err := s.voteTrigger.CastVote(r.Context(), req.TxID, req.RoundNumber); err != nil {
		return nil, fromError(err)
	}
	return nil, nil
}

type voteRequestBody struct {
	TxID        types.TxId `json:"tx_id"`
	RoundNumber int        `json:"round_number"`
}

// sessionIDParam parses the session_id URL path variable shared by the public operator-facing
// join route.
func sessionIDParam(r *http.Request) (types.SessionId, *HandlerError) {
	raw := mux.Vars(r)["session_id"]
	id, err := types.ParseSessionId(raw)
	if err != nil {
		return types.SessionId{}, badRequest("invalid session_id: %s", err)
	}
	return id, nil
}

// loadCeremony reads the durable ceremony record for sessionID, the participant list a joining
// node's CoordinatorRequest needs but the internal join wire bodies don't always carry in full
// (§6's named join bodies vary per kind; the coordinator's own write is the one place every
// field always lives).
func (s *Server) loadCeremony(r *http.Request, sessionID types.SessionId) (*types.Ceremony, *HandlerError) {
	record, ok, err := s.ceremonies.GetCeremony(r.Context(), sessionID)
	if err != nil {
		return nil, fromError(err)
	}
	if !ok {
		return nil, notFound("no ceremony record for session %s", sessionID)
	}
	return record, nil
}

// coordinatorRequestFrom rebuilds the CoordinatorRequest a participant join needs from the
// durable record the coordinator already wrote, rather than trusting the triggering peer's wire
// body to repeat every field.
func coordinatorRequestFrom(c *types.Ceremony) ceremony.CoordinatorRequest {
	return ceremony.CoordinatorRequest{
		Kind:          c.Kind,
		Protocol:      c.Protocol,
		Threshold:     c.Threshold,
		Participants:  c.Participants,
		EngineTimeout: internalEngineTimeout,
	}
}

type dkgJoinBody struct {
	SessionID types.SessionId `json:"session_id"`
}

func (s *Server) dkgJoin(r *http.Request) (interface{}, *HandlerError) {
	var body dkgJoinBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, badRequest("decoding request body: %s", err)
	}
	record, hErr := s.loadCeremony(r, body.SessionID)
	if hErr != nil {
		return nil, hErr
	}
	_, err := s.coord.RunAsParticipant(r.Context(), body.SessionID, coordinatorRequestFrom(record))
	if err != nil {
		return nil, fromError(err)
	}
	return joinAck(), nil
}

func (s *Server) auxInfoJoin(r *http.Request) (interface{}, *HandlerError) {
	var body dkgJoinBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, badRequest("decoding request body: %s", err)
	}
	record, hErr := s.loadCeremony(r, body.SessionID)
	if hErr != nil {
		return nil, hErr
	}
	_, err := s.coord.RunAsParticipant(r.Context(), body.SessionID, coordinatorRequestFrom(record))
	if err != nil {
		return nil, fromError(err)
	}
	return joinAck(), nil
}

// presigJoin implements POST /internal/presig-join (§6), routed through the protocol's
// FollowerGate so overlapping presignature sessions are still gated by its single permit even
// though the request reached this node via HTTP rather than the refill loop's own broadcast.
func (s *Server) presigJoin(r *http.Request) (interface{}, *HandlerError) {
	var body dkgJoinBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, badRequest("decoding request body: %s", err)
	}
	record, hErr := s.loadCeremony(r, body.SessionID)
	if hErr != nil {
		return nil, hErr
	}
	gate, hErr := s.followerFor(record.Protocol)
	if hErr != nil {
		return nil, hErr
	}
	_, err := gate.JoinSession(r.Context(), body.SessionID, coordinatorRequestFrom(record))
	if err != nil {
		if cerrors.IsInProgress(err) {
			return joinInProgressAck(), nil
		}
		return nil, fromError(err)
	}
	return joinAck(), nil
}

// signingJoin implements POST /internal/signing-join (§6): acknowledgement only, since signing
// proceeds entirely over the ceremony transport once both sides have joined the router session.
func (s *Server) signingJoin(r *http.Request) (interface{}, *HandlerError) {
	var body dkgJoinBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, badRequest("decoding request body: %s", err)
	}
	record, hErr := s.loadCeremony(r, body.SessionID)
	if hErr != nil {
		return nil, hErr
	}
	_, err := s.coord.RunAsParticipant(r.Context(), body.SessionID, coordinatorRequestFrom(record))
	if err != nil {
		return nil, fromError(err)
	}
	return joinAck(), nil
}

type joinAckResponse struct {
	Status string `json:"status"`
}

func joinAck() joinAckResponse           { return joinAckResponse{Status: "joined"} }
func joinInProgressAck() joinAckResponse { return joinAckResponse{Status: "already in progress"} }

type auxReadyResponse struct {
	Ready  bool         `json:"ready"`
	NodeId types.NodeId `json:"node_id"`
}

// auxReady implements GET /internal/aux-ready (§6): the CGGMP24-only in-memory presence latch,
// queried directly rather than through a ceremony record since it reflects this node's own local
// state, not anything durable.
func (s *Server) auxReady(r *http.Request) (interface{}, *HandlerError) {
	return auxReadyResponse{
		Ready:  s.presence.HasAuxInfo(types.ProtocolCGGMP24),
		NodeId: s.self,
	}, nil
}
