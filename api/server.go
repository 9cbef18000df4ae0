package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mpcwallet/orchestrator/bitcoin"
	"github.com/mpcwallet/orchestrator/ceremony"
	"github.com/mpcwallet/orchestrator/health"
	"github.com/mpcwallet/orchestrator/presig"
	"github.com/mpcwallet/orchestrator/types"
	"github.com/mpcwallet/orchestrator/vote"
)

// TransactionStore is the subset of reldb.Store the public transaction endpoints need.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx *types.Transaction) error
	GetTransaction(ctx context.Context, txID types.TxId) (*types.Transaction, bool, error)
	ListTransactions(ctx context.Context, limit, offset int) ([]types.Transaction, error)
}

// CeremonyReader is the subset of reldb.Store the wallet/DKG status endpoints need.
type CeremonyReader interface {
	GetCeremony(ctx context.Context, sessionID types.SessionId) (*types.Ceremony, bool, error)
	LatestCompletedCeremony(ctx context.Context, protocol types.Protocol, kind types.CeremonyKind) (*types.Ceremony, bool, error)
}

// PresigPool is the subset of *presig.Pool each protocol's handlers drive.
type PresigPool interface {
	Stats(ctx context.Context) (presig.Stats, error)
	Size(ctx context.Context) (int, error)
	GenerateNow(ctx context.Context, count int) (int, error)
}

// Server bundles the collaborators the §6 HTTP surface dispatches into and owns the gorilla/mux
// route table and the underlying http.Server, grounded on apiserver/main.go's Start/shutdown-func
// shape but authored directly since the teacher's own server.Start body was not retrieved into
// the pack.
type Server struct {
	self       types.NodeId
	threshold  int
	totalNodes int

	txs        TransactionStore
	ceremonies CeremonyReader

	dkg     *ceremony.DkgService
	auxInfo *ceremony.AuxInfoService
	coord   *ceremony.Coordinator

	pools     map[types.Protocol]PresigPool
	followers map[types.Protocol]*presig.FollowerGate
	presence  *presig.InMemoryAuxInfoPresence

	voteTrigger *vote.HTTPTrigger

	btc       *bitcoin.Client
	addresses *bitcoin.AddressDeriver

	health *health.Checker

	router *mux.Router
	srv    *http.Server
}

// NewServer wires every collaborator into one gorilla/mux route table. Every argument is a
// narrow local interface except for the concrete ceremony/presig/vote/bitcoin/health types,
// which have no seam worth cutting since api/ is their only HTTP-facing caller.
func NewServer(
	self types.NodeId,
	threshold, totalNodes int,
	txs TransactionStore,
	ceremonies CeremonyReader,
	dkg *ceremony.DkgService,
	auxInfo *ceremony.AuxInfoService,
	coord *ceremony.Coordinator,
	pools map[types.Protocol]PresigPool,
	followers map[types.Protocol]*presig.FollowerGate,
	presence *presig.InMemoryAuxInfoPresence,
	voteTrigger *vote.HTTPTrigger,
	btc *bitcoin.Client,
	addresses *bitcoin.AddressDeriver,
	checker *health.Checker,
) *Server {
	s := &Server{
		self: self, threshold: threshold, totalNodes: totalNodes,
		txs: txs, ceremonies: ceremonies,
		dkg: dkg, auxInfo: auxInfo, coord: coord,
		pools: pools, followers: followers, presence: presence,
		voteTrigger: voteTrigger,
		btc:         btc, addresses: addresses,
		health: checker,
	}
	s.router = mux.NewRouter()
	s.addPublicRoutes()
	s.addInternalRoutes()
	return s
}

// handlerFunc is the common shape every route handler implements: read routeParams/query off
// the request, return a response body or a HandlerError. Mirrors apiserver/server.makeHandler's
// signature, minus the teacher's APIServerContext (this package has no per-request DB
// transaction to thread through).
type handlerFunc func(r *http.Request) (interface{}, *HandlerError)

func (s *Server) handle(path string, method string, h handlerFunc) {
	s.router.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		resp, hErr := h(r)
		if hErr != nil {
			log.Warnf("%s %s: %s", method, path, hErr)
			sendErr(w, hErr)
			return
		}
		sendJSON(w, http.StatusOK, resp)
	}).Methods(method)
}

// Start begins serving on addr. Returns once the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.router}
	log.Infof("API server listening on %s", addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests, giving up after 10 seconds or when ctx ends,
// whichever comes first.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) poolFor(protocol types.Protocol) (PresigPool, *HandlerError) {
	pool, ok := s.pools[protocol]
	if !ok {
		return nil, badRequest("unknown protocol %q", protocol)
	}
	return pool, nil
}

func (s *Server) followerFor(protocol types.Protocol) (*presig.FollowerGate, *HandlerError) {
	gate, ok := s.followers[protocol]
	if !ok {
		return nil, badRequest("unknown protocol %q", protocol)
	}
	return gate, nil
}
