package ceremony

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/mpcwallet/orchestrator/coordstore"
	cerrors "github.com/mpcwallet/orchestrator/errors"
	"github.com/mpcwallet/orchestrator/logs"
	"github.com/mpcwallet/orchestrator/router"
	"github.com/mpcwallet/orchestrator/types"
	"github.com/mpcwallet/orchestrator/util/panics"
	"github.com/pkg/errors"
)

var log, _ = logs.Get("CRM ")
var spawn = panics.GoroutineWrapperFunc(log)

// readyBarrierTimeout is the window each ceremony's participants have to register their router
// session and write their ready key (§4.3.1 step 5: "15-30s timeout").
const readyBarrierTimeout = 20 * time.Second

// readyKeyTTL bounds how long a stray ready-barrier key survives a coordinator crash before the
// lease reclaims it; §6's key layout calls these keys "TTL'd via the lease".
const readyKeyTTL = 5 * time.Minute

// barrierPollInterval is how often the barrier wait re-scans the ready-key prefix.
const barrierPollInterval = 200 * time.Millisecond

// CeremonyStore is the durable-store facet the coordinator needs (§4.3.1 step 2 / §4.3.2 step 2).
// Implemented concretely by reldb/.
type CeremonyStore interface {
	CreateCeremony(ctx context.Context, ceremony *types.Ceremony) error
	UpdateCeremonyStatus(ctx context.Context, sessionID types.SessionId, status types.CeremonyStatus, publicKey []byte, ceremonyErr string) error
	UpdateCeremonyAddress(ctx context.Context, sessionID types.SessionId, address string) error
	GetCeremony(ctx context.Context, sessionID types.SessionId) (*types.Ceremony, bool, error)
}

// JoinBroadcaster fans a join request out to every other participant over HTTP
// (§4.3.1 step 3: "fire-and-forget, best-effort, 5s per request"). Implemented concretely by api/.
type JoinBroadcaster interface {
	BroadcastJoin(ctx context.Context, kind types.CeremonyKind, sessionID types.SessionId, protocol types.Protocol, threshold, totalNodes int, participants []types.NodeId)
}

// Coordinator runs the common ceremony skeleton (§4.3.1) for any (protocol, kind) pair the
// Registry knows about. DkgService and AuxInfoService are thin, kind-specific wrappers around it;
// presig/ and the signing path reuse it directly.
type Coordinator struct {
	self     types.NodeId
	store    *coordstore.Facade
	durable  CeremonyStore
	rtr      *router.Router
	joins    JoinBroadcaster
	registry *Registry
}

func NewCoordinator(self types.NodeId, store *coordstore.Facade, durable CeremonyStore, rtr *router.Router, joins JoinBroadcaster, registry *Registry) *Coordinator {
	return &Coordinator{self: self, store: store, durable: durable, rtr: rtr, joins: joins, registry: registry}
}

// CoordinatorRequest parameterizes RunAsCoordinator. LockKey/LockTTL are supplied by the caller
// (DkgService uses coordstore.LockDKG, presig/ uses coordstore.LockPresigGeneration, signing uses
// coordstore.LockSigningKey(txID)) since only the caller knows which admission lock its ceremony
// kind is scoped by.
type CoordinatorRequest struct {
	Kind          types.CeremonyKind
	Protocol      types.Protocol
	Threshold     int
	Participants  []types.NodeId // includes self
	LockKey       string
	LockTTL       time.Duration
	EngineTimeout time.Duration
}

// RunAsCoordinator executes the full skeleton (§4.3.1 steps 1-8) as the admitting node.
func (c *Coordinator) RunAsCoordinator(ctx context.Context, req CoordinatorRequest) (types.Ceremony, Result, error) {
	lock, ok, err := coordstore.TryLock(ctx, c.store, req.LockKey, req.LockTTL)
	if err != nil {
		return types.Ceremony{}, Result{}, errors.Wrap(err, "acquiring ceremony admission lock")
	}
	if !ok {
		return types.Ceremony{}, Result{}, cerrors.CeremonyInProgress(string(req.Kind))
	}

	sessionID := types.NewSessionId()
	ceremony := types.Ceremony{
		SessionID:    sessionID,
		Protocol:     req.Protocol,
		Kind:         req.Kind,
		Threshold:    req.Threshold,
		TotalNodes:   len(req.Participants),
		Participants: req.Participants,
		Status:       types.CeremonyRunning,
		StartedAt:    time.Now(),
	}
	if err := c.durable.CreateCeremony(ctx, &ceremony); err != nil {
		_ = lock.Release(ctx)
		return types.Ceremony{}, Result{}, errors.Wrap(err, "persisting ceremony record")
	}

	spawn(func() {
		c.joins.BroadcastJoin(context.Background(), req.Kind, sessionID, req.Protocol, req.Threshold, len(req.Participants), req.Participants)
	})

	result, runErr := c.runSkeleton(ctx, sessionID, req)

	if runErr != nil {
		ceremony.Status = types.CeremonyFailed
		ceremony.Error = runErr.Error()
		if err := c.durable.UpdateCeremonyStatus(ctx, sessionID, types.CeremonyFailed, nil, runErr.Error()); err != nil {
			log.Warnf("failed to persist failed status for session %s: %s", sessionID, err)
		}
	} else {
		ceremony.Status = types.CeremonyCompleted
		ceremony.PublicKey = result.PublicKey
		if err := c.durable.UpdateCeremonyStatus(ctx, sessionID, types.CeremonyCompleted, result.PublicKey, ""); err != nil {
			log.Warnf("failed to persist completed status for session %s: %s", sessionID, err)
		}
	}

	_ = lock.Release(ctx)
	return ceremony, result, runErr
}

// RunAsParticipant executes the skeleton's steps 4-8 as a joining (non-admitting) node
// (§4.3.2): idempotent on duplicate join requests, bounded-retries the ceremony record read to
// tolerate replication lag, and never touches the admission lock.
func (c *Coordinator) RunAsParticipant(ctx context.Context, sessionID types.SessionId, req CoordinatorRequest) (Result, error) {
	if c.rtr.HasSession(sessionID) {
		log.Debugf("session %s already registered, suppressing duplicate join", sessionID)
		return Result{}, nil
	}

	const maxAttempts = 10
	const retryDelay = 200 * time.Millisecond
	var ceremonyRecord *types.Ceremony
	for attempt := 0; attempt < maxAttempts; attempt++ {
		record, found, err := c.durable.GetCeremony(ctx, sessionID)
		if err == nil && found {
			ceremonyRecord = record
			break
		}
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if ceremonyRecord == nil {
		return Result{}, cerrors.NotFound("ceremony record for session " + sessionID.String())
	}

	return c.runSkeleton(ctx, sessionID, req)
}

// runSkeleton is steps 4-8 of §4.3.1, shared by both the coordinator and participant paths:
// register the router session, wait out the ready barrier, start the adapter tasks, run the
// engine under a hard timeout, then tear everything down in the mandated strict order.
func (c *Coordinator) runSkeleton(ctx context.Context, sessionID types.SessionId, req CoordinatorRequest) (result Result, err error) {
	outbox, inbox, err := c.rtr.RegisterSession(sessionID, req.Participants)
	if err != nil {
		return Result{}, errors.Wrap(err, "registering router session")
	}

	var adaptersStop func()
	defer func() {
		if adaptersStop != nil {
			adaptersStop()
		}
		_ = c.rtr.UnregisterSession(sessionID)
		c.deleteBarrierKeys(sessionID, req.Kind, req.Participants)
	}()

	if err := c.waitReadyBarrier(ctx, req.Kind, sessionID, req.Participants); err != nil {
		return Result{}, errors.Wrap(err, "waiting for ready barrier")
	}

	engineInbound, engineOutbound, stop := startAdapters(ctx, inbox, outbox)
	adaptersStop = stop

	engine, ok := c.registry.Lookup(req.Protocol, req.Kind)
	if !ok {
		return Result{}, errors.Errorf("no engine registered for protocol=%s kind=%s", req.Protocol, req.Kind)
	}

	partyIndex, ok := router.PartyIndexOf(req.Participants, c.self)
	if !ok {
		return Result{}, errors.Errorf("self node %s is not in the participant set", c.self)
	}

	runCtx, cancel := context.WithTimeout(ctx, req.EngineTimeout)
	defer cancel()

	session := Session{ID: sessionID, Inbound: engineInbound, Outbound: engineOutbound}
	result, err = engine.Run(runCtx, session, int(partyIndex), len(req.Participants), req.Threshold)
	if err != nil {
		if stderrors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Result{}, cerrors.Timeout("ceremony " + string(req.Kind) + " session " + sessionID.String())
		}
		return Result{}, errors.Wrap(err, "running crypto engine")
	}
	return result, nil
}

// waitReadyBarrier writes this node's own ready key, then polls the session's ready-key prefix
// until every participant is present or timeout elapses (§4.3.1 step 5).
func (c *Coordinator) waitReadyBarrier(ctx context.Context, kind types.CeremonyKind, sessionID types.SessionId, participants []types.NodeId) error {
	key := coordstore.ReadyBarrierKey(kind, sessionID, c.self)
	if _, _, err := c.store.TryAcquireLock(ctx, key, readyKeyTTL); err != nil {
		return errors.Wrap(err, "writing ready barrier key")
	}

	deadline := time.Now().Add(readyBarrierTimeout)
	prefix := coordstore.ReadyBarrierPrefix(kind, sessionID)
	for {
		entries, err := c.store.GetPrefix(ctx, prefix)
		if err != nil {
			return errors.Wrap(err, "polling ready barrier")
		}
		if len(entries) >= len(participants) {
			return nil
		}
		if time.Now().After(deadline) {
			return cerrors.Timeout("ready barrier for session " + sessionID.String())
		}
		select {
		case <-time.After(barrierPollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Coordinator) deleteBarrierKeys(sessionID types.SessionId, kind types.CeremonyKind, participants []types.NodeId) {
	ctx := context.Background()
	for _, node := range participants {
		if err := c.store.Delete(ctx, coordstore.ReadyBarrierKey(kind, sessionID, node)); err != nil {
			log.Warnf("failed to delete ready barrier key for node %s session %s: %s", node, sessionID, err)
		}
	}
}
