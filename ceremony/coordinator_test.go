package ceremony

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mpcwallet/orchestrator/coordstore"
	"github.com/mpcwallet/orchestrator/router"
	"github.com/mpcwallet/orchestrator/transport"
	"github.com/mpcwallet/orchestrator/types"
	"github.com/stretchr/testify/require"
)

// meshConnection forwards a Send directly into the target node's router, standing in for a full
// gRPC transport round trip. "to" is always nil because a direct point-to-point connection never
// needs to re-disambiguate the recipient the way a fan-in listener socket would.
type meshConnection struct {
	from   types.NodeId
	target *router.Router
}

func (c *meshConnection) Send(frame *transport.Frame) error {
	sessionID := types.SessionId(frame.SessionID)
	c.target.HandleIncoming(c.from, nil, sessionID.String(), frame.Payload, frame.Sequence, frame.Broadcast)
	return nil
}
func (c *meshConnection) Receive() (*transport.Frame, error) {
	return nil, transport.ErrConnectionClosed
}
func (c *meshConnection) Disconnect() error                     { return nil }
func (c *meshConnection) Address() string                       { return "mesh" }
func (c *meshConnection) IsOutbound() bool                      { return true }
func (c *meshConnection) SetOnDisconnectedHandler(func() error) {}

type meshConnectionSource struct {
	self    types.NodeId
	routers map[types.NodeId]*router.Router
}

func (s *meshConnectionSource) ConnectionFor(id types.NodeId) (transport.Connection, error) {
	target, ok := s.routers[id]
	if !ok {
		return nil, transport.ErrConnectionClosed
	}
	return &meshConnection{from: s.self, target: target}, nil
}

// newMeshCluster builds one router per node, each wired to reach every other node's router
// directly, simulating a fully connected transport mesh in-process.
func newMeshCluster(ids []types.NodeId) map[types.NodeId]*router.Router {
	routers := make(map[types.NodeId]*router.Router, len(ids))
	for _, id := range ids {
		routers[id] = nil
	}
	for _, id := range ids {
		routers[id] = router.New(id, &meshConnectionSource{self: id, routers: routers})
	}
	return routers
}

// fakeCeremonyStore is an in-memory CeremonyStore.
type fakeCeremonyStore struct {
	mu         sync.Mutex
	ceremonies map[types.SessionId]*types.Ceremony
}

func newFakeCeremonyStore() *fakeCeremonyStore {
	return &fakeCeremonyStore{ceremonies: make(map[types.SessionId]*types.Ceremony)}
}

func (s *fakeCeremonyStore) CreateCeremony(ctx context.Context, ceremony *types.Ceremony) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ceremony
	s.ceremonies[ceremony.SessionID] = &cp
	return nil
}

func (s *fakeCeremonyStore) UpdateCeremonyStatus(ctx context.Context, sessionID types.SessionId, status types.CeremonyStatus, publicKey []byte, ceremonyErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.ceremonies[sessionID]
	if !ok {
		return nil
	}
	c.Status = status
	c.PublicKey = publicKey
	c.Error = ceremonyErr
	return nil
}

func (s *fakeCeremonyStore) UpdateCeremonyAddress(ctx context.Context, sessionID types.SessionId, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.ceremonies[sessionID]
	if !ok {
		return nil
	}
	c.Address = address
	return nil
}

func (s *fakeCeremonyStore) GetCeremony(ctx context.Context, sessionID types.SessionId) (*types.Ceremony, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.ceremonies[sessionID]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}

// fakeAuxInfoStore is an in-memory AuxInfoStore.
type fakeAuxInfoStore struct {
	mu      sync.Mutex
	present map[types.SessionId]bool
}

func newFakeAuxInfoStore() *fakeAuxInfoStore {
	return &fakeAuxInfoStore{present: make(map[types.SessionId]bool)}
}

func (s *fakeAuxInfoStore) HasAuxInfo(ctx context.Context, dkgSessionID types.SessionId) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present[dkgSessionID], nil
}

func (s *fakeAuxInfoStore) RecordAuxInfo(ctx context.Context, dkgSessionID types.SessionId, nodeID types.NodeId, metadata []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present[dkgSessionID] = true
	return nil
}

type fakeAddressDeriver struct{}

func (fakeAddressDeriver) DeriveAddress(protocol types.Protocol, publicKey []byte) (string, error) {
	if protocol == types.ProtocolCGGMP24 {
		return "bc1qfakeaddressfortest", nil
	}
	return "bc1pfakeaddressfortest", nil
}

// testJoinBroadcaster models the HTTP join fan-out (§4.3.1 step 3) by directly invoking the
// named peer's RunAsParticipant, carrying exactly the information a real join POST body would.
type testJoinBroadcaster struct {
	self          types.NodeId
	coordinators  map[types.NodeId]*Coordinator
	engineTimeout time.Duration

	mu      sync.Mutex
	results map[types.NodeId]error
	wg      *sync.WaitGroup
}

func (b *testJoinBroadcaster) BroadcastJoin(ctx context.Context, kind types.CeremonyKind, sessionID types.SessionId, protocol types.Protocol, threshold, totalNodes int, participants []types.NodeId) {
	for _, p := range participants {
		if p == b.self {
			continue
		}
		coordinator, ok := b.coordinators[p]
		if !ok {
			continue
		}
		b.wg.Add(1)
		go func(node types.NodeId, c *Coordinator) {
			defer b.wg.Done()
			req := CoordinatorRequest{
				Kind:          kind,
				Protocol:      protocol,
				Threshold:     threshold,
				Participants:  participants,
				EngineTimeout: b.engineTimeout,
			}
			_, err := c.RunAsParticipant(context.Background(), sessionID, req)
			b.mu.Lock()
			b.results[node] = err
			b.mu.Unlock()
		}(p, coordinator)
	}
}

func newTestCluster(t *testing.T, ids []types.NodeId) (routers map[types.NodeId]*router.Router, coordinators map[types.NodeId]*Coordinator, durable *fakeCeremonyStore, store *coordstore.Facade) {
	t.Helper()
	routers = newMeshCluster(ids)
	store = coordstore.NewFacade(newFakeStore())
	durable = newFakeCeremonyStore()
	registry := NewRegistry()

	coordinators = make(map[types.NodeId]*Coordinator, len(ids))
	for _, id := range ids {
		coordinators[id] = NewCoordinator(id, store, durable, routers[id], nil, registry)
	}
	return routers, coordinators, durable, store
}

func TestRunAsCoordinatorDKGHappyPath(t *testing.T) {
	ids := []types.NodeId{1, 2, 3}
	_, coordinators, durable, _ := newTestCluster(t, ids)

	var wg sync.WaitGroup
	broadcaster := &testJoinBroadcaster{self: 1, coordinators: coordinators, engineTimeout: dkgEngineTimeout, results: map[types.NodeId]error{}, wg: &wg}
	coordinator1 := coordinators[1]
	coordinator1.joins = broadcaster

	req := CoordinatorRequest{
		Kind:          types.CeremonyDKG,
		Protocol:      types.ProtocolCGGMP24,
		Threshold:     3,
		Participants:  ids,
		LockKey:       coordstore.LockDKG,
		LockTTL:       time.Minute,
		EngineTimeout: dkgEngineTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ceremony, result, err := coordinator1.RunAsCoordinator(ctx, req)
	require.NoError(t, err)
	require.Equal(t, types.CeremonyCompleted, ceremony.Status)
	require.Len(t, result.PublicKey, 33)

	wg.Wait()
	for node, joinErr := range broadcaster.results {
		require.NoErrorf(t, joinErr, "participant %s failed to join", node)
	}

	record, found, err := durable.GetCeremony(context.Background(), ceremony.SessionID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, types.CeremonyCompleted, record.Status)
}

func TestRunAsCoordinatorFailsWhenLockAlreadyHeld(t *testing.T) {
	ids := []types.NodeId{1, 2, 3}
	_, coordinators, _, store := newTestCluster(t, ids)

	lock, ok, err := coordstore.TryLock(context.Background(), store, coordstore.LockDKG, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	req := CoordinatorRequest{
		Kind:          types.CeremonyDKG,
		Protocol:      types.ProtocolCGGMP24,
		Threshold:     3,
		Participants:  ids,
		LockKey:       coordstore.LockDKG,
		LockTTL:       time.Minute,
		EngineTimeout: dkgEngineTimeout,
	}
	_, _, err = coordinators[1].RunAsCoordinator(context.Background(), req)
	require.Error(t, err)
	require.NoError(t, lock.Release(context.Background()))
}

func TestRunAsParticipantSuppressesDuplicateJoin(t *testing.T) {
	ids := []types.NodeId{1, 2}
	_, coordinators, durable, _ := newTestCluster(t, ids)

	sessionID := types.NewSessionId()
	require.NoError(t, durable.CreateCeremony(context.Background(), &types.Ceremony{
		SessionID: sessionID, Protocol: types.ProtocolCGGMP24, Kind: types.CeremonyDKG,
		Threshold: 2, TotalNodes: 2, Participants: ids, Status: types.CeremonyRunning,
	}))

	_, _, err := coordinators[2].rtr.RegisterSession(sessionID, ids)
	require.NoError(t, err)

	req := CoordinatorRequest{Kind: types.CeremonyDKG, Protocol: types.ProtocolCGGMP24, Threshold: 2, Participants: ids, EngineTimeout: time.Second}
	result, err := coordinators[2].RunAsParticipant(context.Background(), sessionID, req)
	require.NoError(t, err)
	require.Equal(t, Result{}, result)
}

func TestRunAsParticipantReturnsNotFoundWhenRecordNeverReplicates(t *testing.T) {
	ids := []types.NodeId{1, 2}
	_, coordinators, _, _ := newTestCluster(t, ids)

	sessionID := types.NewSessionId()
	req := CoordinatorRequest{Kind: types.CeremonyDKG, Protocol: types.ProtocolCGGMP24, Threshold: 2, Participants: ids, EngineTimeout: time.Second}

	_, err := coordinators[2].RunAsParticipant(context.Background(), sessionID, req)
	require.Error(t, err)
}
