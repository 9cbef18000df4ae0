package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mpcwallet/orchestrator/types"
)

const defaultListLimit = 100
const maxOpReturnBytes = 80
const maxGenerateCount = 50

// addPublicRoutes registers the operator-facing §6 REST surface.
func (s *Server) addPublicRoutes() {
	s.handle("/api/v1/transactions", http.MethodPost, s.createTransaction)
	s.handle("/api/v1/transactions", http.MethodGet, s.listTransactions)
	s.handle("/api/v1/transactions/{txid}", http.MethodGet, s.getTransaction)
	s.handle("/api/v1/wallet/address", http.MethodGet, s.walletAddress)
	s.handle("/api/v1/wallet/balance", http.MethodGet, s.walletBalance)
	s.handle("/api/v1/dkg/initiate", http.MethodPost, s.initiateDKG)
	s.handle("/api/v1/dkg/join/{session_id}", http.MethodPost, s.joinDKG)
	s.handle("/api/v1/dkg/status", http.MethodGet, s.dkgStatus)
	s.handle("/api/v1/dkg/aux-info/retry", http.MethodPost, s.retryAuxInfo)
	s.handle("/api/v1/presignatures/generate", http.MethodPost, s.generatePresignatures)
	s.handle("/api/v1/presignatures/status", http.MethodGet, s.presignatureStatus)
	s.handle("/api/v1/cluster/health", http.MethodGet, s.clusterHealth)
}

type createTransactionRequest struct {
	Recipient  string `json:"recipient"`
	AmountSats int64  `json:"amount_sats"`
	Metadata   []byte `json:"metadata,omitempty"`
}

type transactionResponse struct {
	Txid          string `json:"txid"`
	State         string `json:"state"`
	Recipient     string `json:"recipient"`
	AmountSats    int64  `json:"amount_sats"`
	Confirmations int64  `json:"confirmations"`
}

func transactionToResponse(tx *types.Transaction) transactionResponse {
	return transactionResponse{
		Txid:          string(tx.ID),
		State:         string(tx.State),
		Recipient:     tx.Recipient,
		AmountSats:    tx.AmountSats,
		Confirmations: tx.Confirmations,
	}
}

// createTransaction implements POST /api/v1/transactions (§6): admits a brand new transaction in
// StatePending. The FSM poller (fsm/) picks it up from there; this handler never drives state
// transitions itself.
func (s *Server) createTransaction(r *http.Request) (interface{}, *HandlerError) {
	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, badRequest("decoding request body: %s", err)
	}
	if req.Recipient == "" {
		return nil, badRequest("recipient is required")
	}
	if req.AmountSats <= 0 {
		return nil, badRequest("amount_sats must be positive")
	}
	if len(req.Metadata) > maxOpReturnBytes {
		return nil, badRequest("metadata must be at most %d bytes", maxOpReturnBytes)
	}

	tx := &types.Transaction{
		ID:               types.TxId(uuid.New().String()),
		State:            types.StatePending,
		Recipient:        req.Recipient,
		AmountSats:       req.AmountSats,
		OpReturnMetadata: req.Metadata,
	}
	if err := s.txs.CreateTransaction(r.Context(), tx); err != nil {
		return nil, fromError(err)
	}
	return transactionToResponse(tx), nil
}

func (s *Server) getTransaction(r *http.Request) (interface{}, *HandlerError) {
	txID := types.TxId(mux.Vars(r)["txid"])
	tx, ok, err := s.txs.GetTransaction(r.Context(), txID)
	if err != nil {
		return nil, fromError(err)
	}
	if !ok {
		return nil, notFound("transaction %s not found", txID)
	}
	return transactionToResponse(tx), nil
}

func (s *Server) listTransactions(r *http.Request) (interface{}, *HandlerError) {
	limit := intQueryParam(r, "limit", defaultListLimit)
	offset := intQueryParam(r, "offset", 0)
	txs, err := s.txs.ListTransactions(r.Context(), limit, offset)
	if err != nil {
		return nil, fromError(err)
	}
	resp := make([]transactionResponse, len(txs))
	for i := range txs {
		resp[i] = transactionToResponse(&txs[i])
	}
	return resp, nil
}

type walletAddressResponse struct {
	Address  string         `json:"address"`
	Protocol types.Protocol `json:"protocol"`
}

// walletAddress implements GET /api/v1/wallet/address: the address derived from the most
// recently completed DKG for this node's configured protocol (§6).
func (s *Server) walletAddress(r *http.Request) (interface{}, *HandlerError) {
	protocol := protocolQueryParam(r, s)
	ceremony, ok, err := s.ceremonies.LatestCompletedCeremony(r.Context(), protocol, types.CeremonyDKG)
	if err != nil {
		return nil, fromError(err)
	}
	if !ok {
		return nil, notFound("no completed DKG for protocol %s", protocol)
	}
	return walletAddressResponse{Address: ceremony.Address, Protocol: protocol}, nil
}

type walletBalanceResponse struct {
	AddressSats int64  `json:"balance_sats"`
	Address     string `json:"address"`
}

// walletBalance implements GET /api/v1/wallet/balance for the address derived from the latest
// completed DKG (§6), reporting bitcoin.Client.Balance: the total ever received at that address,
// with outputs later spent from it not subtracted.
func (s *Server) walletBalance(r *http.Request) (interface{}, *HandlerError) {
	protocol := protocolQueryParam(r, s)
	ceremony, ok, err := s.ceremonies.LatestCompletedCeremony(r.Context(), protocol, types.CeremonyDKG)
	if err != nil {
		return nil, fromError(err)
	}
	if !ok {
		return nil, notFound("no completed DKG for protocol %s", protocol)
	}
	balance, err := s.btc.Balance(r.Context(), ceremony.Address)
	if err != nil {
		return nil, fromError(err)
	}
	return walletBalanceResponse{AddressSats: balance, Address: ceremony.Address}, nil
}

type initiateDKGRequest struct {
	Protocol   types.Protocol `json:"protocol"`
	Threshold  int            `json:"threshold"`
	TotalNodes int            `json:"total_nodes"`
}

type ceremonyResponse struct {
	SessionID types.SessionId      `json:"session_id"`
	Protocol  types.Protocol       `json:"protocol"`
	Kind      types.CeremonyKind   `json:"kind"`
	Status    types.CeremonyStatus `json:"status"`
	Address   string               `json:"address,omitempty"`
	Error     string               `json:"error,omitempty"`
}

func ceremonyToResponse(c *types.Ceremony) ceremonyResponse {
	return ceremonyResponse{
		SessionID: c.SessionID, Protocol: c.Protocol, Kind: c.Kind,
		Status: c.Status, Address: c.Address, Error: c.Error,
	}
}

// initiateDKG implements POST /api/v1/dkg/initiate (§6). The caller supplies total_nodes; this
// node always includes itself as a participant plus every other node in [1, total_nodes].
func (s *Server) initiateDKG(r *http.Request) (interface{}, *HandlerError) {
	var req initiateDKGRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, badRequest("decoding request body: %s", err)
	}
	if !req.Protocol.Valid() {
		return nil, badRequest("invalid protocol %q", req.Protocol)
	}
	if req.Threshold < 2 {
		return nil, badRequest("threshold must be at least 2")
	}
	if req.TotalNodes < req.Threshold {
		return nil, badRequest("total_nodes must be at least threshold")
	}

	participants := make([]types.NodeId, req.TotalNodes)
	for i := range participants {
		participants[i] = types.NodeId(i + 1)
	}

	ceremony, err := s.dkg.Initiate(r.Context(), req.Protocol, req.Threshold, participants)
	if err != nil {
		return nil, fromError(err)
	}
	return ceremonyToResponse(&ceremony), nil
}

// joinDKG implements POST /api/v1/dkg/join/:session_id, an operator-facing path onto the same
// participant flow /internal/dkg-join serves node-to-node; both read the durable ceremony record
// to recover the participant list RunAsParticipant needs.
func (s *Server) joinDKG(r *http.Request) (interface{}, *HandlerError) {
	sessionID, hErr := sessionIDParam(r)
	if hErr != nil {
		return nil, hErr
	}
	ceremony, hErr := s.loadCeremony(r, sessionID)
	if hErr != nil {
		return nil, hErr
	}
	result, err := s.coord.RunAsParticipant(r.Context(), sessionID, coordinatorRequestFrom(ceremony))
	if err != nil {
		return nil, fromError(err)
	}
	return result, nil
}

func (s *Server) dkgStatus(r *http.Request) (interface{}, *HandlerError) {
	protocol := protocolQueryParam(r, s)
	ceremony, ok, err := s.ceremonies.LatestCompletedCeremony(r.Context(), protocol, types.CeremonyDKG)
	if err != nil {
		return nil, fromError(err)
	}
	if !ok {
		return nil, notFound("no DKG ceremony found for protocol %s", protocol)
	}
	return ceremonyToResponse(ceremony), nil
}

// retryAuxInfo implements POST /api/v1/dkg/aux-info/retry: the operator-facing entry point
// ceremony.AuxInfoService.EnsureAuxInfo was built for alongside DkgService's own automatic chain
// (§4.3.6) — useful when a node missed the auto-chain (e.g. it was down when its own DKG peer
// completed) and needs to produce aux-info for a DKG that already finished.
func (s *Server) retryAuxInfo(r *http.Request) (interface{}, *HandlerError) {
	protocol := protocolQueryParam(r, s)
	if protocol != types.ProtocolCGGMP24 {
		return nil, badRequest("aux-info only applies to cggmp24")
	}
	dkg, ok, err := s.ceremonies.LatestCompletedCeremony(r.Context(), protocol, types.CeremonyDKG)
	if err != nil {
		return nil, fromError(err)
	}
	if !ok {
		return nil, notFound("no completed DKG for protocol %s", protocol)
	}
	ceremony, err := s.auxInfo.EnsureAuxInfo(r.Context(), dkg.SessionID, dkg.Threshold, dkg.Participants)
	if err != nil {
		return nil, fromError(err)
	}
	return ceremonyToResponse(&ceremony), nil
}

type generatePresignaturesRequest struct {
	Count int `json:"count"`
}

type generatePresignaturesResponse struct {
	Triggered int `json:"triggered"`
}

// generatePresignatures implements POST /api/v1/presignatures/generate (§6): an operator escape
// hatch onto presig.Pool.GenerateNow, bypassing the leader-gated refill loop.
func (s *Server) generatePresignatures(r *http.Request) (interface{}, *HandlerError) {
	protocol := protocolQueryParam(r, s)
	pool, hErr := s.poolFor(protocol)
	if hErr != nil {
		return nil, hErr
	}

	var req generatePresignaturesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, badRequest("decoding request body: %s", err)
	}
	if req.Count < 1 || req.Count > maxGenerateCount {
		return nil, badRequest("count must be in [1, %d]", maxGenerateCount)
	}

	triggered, err := pool.GenerateNow(r.Context(), req.Count)
	if err != nil {
		return nil, fromError(err)
	}
	return generatePresignaturesResponse{Triggered: triggered}, nil
}

type presignatureStatusResponse struct {
	Protocol       types.Protocol `json:"protocol"`
	Size           int            `json:"size"`
	TotalGenerated int64          `json:"total_generated"`
	TotalUsed      int64          `json:"total_used"`
	HourlyUsage    int64          `json:"hourly_usage"`
}

func (s *Server) presignatureStatus(r *http.Request) (interface{}, *HandlerError) {
	protocol := protocolQueryParam(r, s)
	pool, hErr := s.poolFor(protocol)
	if hErr != nil {
		return nil, hErr
	}
	size, err := pool.Size(r.Context())
	if err != nil {
		return nil, fromError(err)
	}
	stats, err := pool.Stats(r.Context())
	if err != nil {
		return nil, fromError(err)
	}
	return presignatureStatusResponse{
		Protocol: protocol, Size: size,
		TotalGenerated: stats.TotalGenerated, TotalUsed: stats.TotalUsed, HourlyUsage: stats.HourlyUsage,
	}, nil
}

type clusterHealthResponse struct {
	Nodes     []nodeStateResponse `json:"nodes"`
	CheckedAt int64               `json:"checked_at"`
}

type nodeStateResponse struct {
	NodeId        types.NodeId `json:"node_id"`
	Active        bool         `json:"active"`
	SuspectedDown bool         `json:"suspected_down"`
}

// clusterHealth implements the SPEC_FULL.md §4.7 supplement GET /api/v1/cluster/health,
// serving health.Checker.Snapshot() directly.
func (s *Server) clusterHealth(r *http.Request) (interface{}, *HandlerError) {
	snapshot := s.health.Snapshot()
	nodes := make([]nodeStateResponse, len(snapshot.Nodes))
	for i, n := range snapshot.Nodes {
		nodes[i] = nodeStateResponse{NodeId: n.NodeId, Active: n.Active, SuspectedDown: n.SuspectedDown}
	}
	return clusterHealthResponse{Nodes: nodes, CheckedAt: snapshot.CheckedAt.Unix()}, nil
}

// intQueryParam parses a non-negative integer query parameter, falling back to def on absence or
// malformed input rather than failing the whole request over a cosmetic pagination parameter.
func intQueryParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

// protocolQueryParam reads an optional ?protocol= query parameter, defaulting to this node's
// primary configured protocol when absent.
func protocolQueryParam(r *http.Request, s *Server) types.Protocol {
	raw := r.URL.Query().Get("protocol")
	if raw == "" {
		return s.defaultProtocol()
	}
	return types.Protocol(raw)
}

func (s *Server) defaultProtocol() types.Protocol {
	for protocol := range s.pools {
		if protocol == types.ProtocolCGGMP24 {
			return types.ProtocolCGGMP24
		}
	}
	return types.ProtocolFROST
}
