package signing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mpcwallet/orchestrator/ceremony"
	"github.com/mpcwallet/orchestrator/coordstore"
	"github.com/mpcwallet/orchestrator/presig"
	"github.com/mpcwallet/orchestrator/router"
	"github.com/mpcwallet/orchestrator/transport"
	"github.com/mpcwallet/orchestrator/types"
	"github.com/stretchr/testify/require"
)

// meshConnection/meshConnectionSource/newMeshCluster mirror ceremony/coordinator_test.go's mesh
// harness: a fully connected in-process transport standing in for the real gRPC one.
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

// fakeCeremonyStore is the minimal in-memory ceremony.CeremonyStore this package's tests need.
type fakeCeremonyStore struct {
	mu         sync.Mutex
	ceremonies map[types.SessionId]*types.Ceremony
}

func newFakeCeremonyStore() *fakeCeremonyStore {
	return &fakeCeremonyStore{ceremonies: make(map[types.SessionId]*types.Ceremony)}
}

func (s *fakeCeremonyStore) CreateCeremony(ctx context.Context, c *types.Ceremony) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.ceremonies[c.SessionID] = &cp
	return nil
}

func (s *fakeCeremonyStore) UpdateCeremonyStatus(ctx context.Context, sessionID types.SessionId, status types.CeremonyStatus, publicKey []byte, ceremonyErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.ceremonies[sessionID]; ok {
		c.Status = status
		c.PublicKey = publicKey
		c.Error = ceremonyErr
	}
	return nil
}

func (s *fakeCeremonyStore) UpdateCeremonyAddress(ctx context.Context, sessionID types.SessionId, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.ceremonies[sessionID]; ok {
		c.Address = address
	}
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

// fakeKVStore is a minimal in-memory coordstore.Store, mirroring presig/fake_kvstore_test.go's
// fakeKVStore. Duplicated rather than shared since test doubles aren't exported across packages.
type fakeKVStore struct {
	mu      sync.Mutex
	kv      map[string][]byte
	leaseOf map[string]coordstore.LeaseID
	keysOf  map[coordstore.LeaseID][]string
	revoked map[coordstore.LeaseID]bool
	nextID  coordstore.LeaseID
}

func newFakeKVStore() *fakeKVStore {
	return &fakeKVStore{
		kv:      make(map[string][]byte),
		leaseOf: make(map[string]coordstore.LeaseID),
		keysOf:  make(map[coordstore.LeaseID][]string),
		revoked: make(map[coordstore.LeaseID]bool),
	}
}

func (s *fakeKVStore) TryAcquireLock(ctx context.Context, key string, ttl time.Duration) (coordstore.LeaseID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.kv[key]; exists {
		return 0, false, nil
	}
	s.nextID++
	lease := s.nextID
	s.kv[key] = []byte{}
	s.leaseOf[key] = lease
	s.keysOf[lease] = append(s.keysOf[lease], key)
	return lease, true, nil
}

func (s *fakeKVStore) RevokeLease(ctx context.Context, lease coordstore.LeaseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.keysOf[lease] {
		delete(s.kv, key)
		delete(s.leaseOf, key)
	}
	delete(s.keysOf, lease)
	s.revoked[lease] = true
	return nil
}

func (s *fakeKVStore) KeepAlive(ctx context.Context, lease coordstore.LeaseID) error { return nil }

func (s *fakeKVStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

func (s *fakeKVStore) PutWithLease(ctx context.Context, key string, value []byte, lease coordstore.LeaseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	s.leaseOf[key] = lease
	s.keysOf[lease] = append(s.keysOf[lease], key)
	return nil
}

func (s *fakeKVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.kv[key]
	return val, ok, nil
}

func (s *fakeKVStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

func (s *fakeKVStore) GetPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte)
	for k, v := range s.kv {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out[k] = v
		}
	}
	return out, nil
}

func (s *fakeKVStore) CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.kv[key]
	if oldValue == nil {
		if exists {
			return false, nil
		}
	} else {
		if !exists || string(current) != string(oldValue) {
			return false, nil
		}
	}
	s.kv[key] = newValue
	return true, nil
}

func (s *fakeKVStore) Close() error { return nil }

// fakePresigStore is the minimal in-memory presig.Store this package's tests need: one entry is
// enough to exercise Acquire, since Sign only ever consumes exactly one per call.
type fakePresigStore struct {
	mu      sync.Mutex
	entries []*types.Presignature
}

func newFakePresigStore() *fakePresigStore { return &fakePresigStore{} }

func (s *fakePresigStore) InsertPresignature(ctx context.Context, protocol types.Protocol, entry *types.Presignature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakePresigStore) CountUnused(ctx context.Context, protocol types.Protocol) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, e := range s.entries {
		if !e.Used {
			count++
		}
	}
	return count, nil
}

func (s *fakePresigStore) AcquireUnused(ctx context.Context, protocol types.Protocol) (*types.Presignature, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if !e.Used {
			e.Used = true
			return e, true, nil
		}
	}
	return nil, false, nil
}

func (s *fakePresigStore) EvictExpired(ctx context.Context, protocol types.Protocol, maxAge time.Duration) (int, error) {
	return 0, nil
}

func (s *fakePresigStore) Stats(ctx context.Context, protocol types.Protocol) (presig.Stats, error) {
	return presig.Stats{}, nil
}

type fakeAuxInfoPresence struct{}

func (fakeAuxInfoPresence) HasAuxInfo(types.Protocol) bool { return true }

type fakeDKGConfigStore struct{}

func (fakeDKGConfigStore) HasDKGConfig(ctx context.Context, protocol types.Protocol) (bool, error) {
	return true, nil
}

// meshJoinBroadcaster models the HTTP join fan-out (§4.3.1 step 3) the same way
// presig/pool_test.go's own meshJoinBroadcaster does: each node gets one instance, whose peer map
// is filled in only after every node's Coordinator already exists.
type meshJoinBroadcaster struct {
	self          types.NodeId
	coordinators  map[types.NodeId]*ceremony.Coordinator
	engineTimeout time.Duration
}

func (b *meshJoinBroadcaster) BroadcastJoin(ctx context.Context, kind types.CeremonyKind, sessionID types.SessionId, protocol types.Protocol, threshold, totalNodes int, participants []types.NodeId) {
	for _, p := range participants {
		if p == b.self {
			continue
		}
		coordinator, ok := b.coordinators[p]
		if !ok {
			continue
		}
		go func(c *ceremony.Coordinator) {
			req := ceremony.CoordinatorRequest{Kind: kind, Protocol: protocol, Threshold: threshold, Participants: participants, EngineTimeout: b.engineTimeout}
			_, _ = c.RunAsParticipant(context.Background(), sessionID, req)
		}(coordinator)
	}
}

func newTestSigningCoordinator(t *testing.T, ids []types.NodeId, threshold int, self types.NodeId) *Coordinator {
	t.Helper()
	routers := newMeshCluster(ids)
	facade := coordstore.NewFacade(newFakeKVStore())
	durable := newFakeCeremonyStore()
	registry := ceremony.NewRegistry()
	const engineTimeout = 5 * time.Second

	coordinators := make(map[types.NodeId]*ceremony.Coordinator, len(ids))
	broadcasters := make(map[types.NodeId]*meshJoinBroadcaster, len(ids))
	for _, id := range ids {
		b := &meshJoinBroadcaster{self: id, coordinators: map[types.NodeId]*ceremony.Coordinator{}, engineTimeout: engineTimeout}
		broadcasters[id] = b
		coordinators[id] = ceremony.NewCoordinator(id, facade, durable, routers[id], b, registry)
	}
	for _, id := range ids {
		for _, other := range ids {
			broadcasters[id].coordinators[other] = coordinators[other]
		}
	}

	store := newFakePresigStore()
	require.NoError(t, store.InsertPresignature(context.Background(), types.ProtocolCGGMP24, &types.Presignature{
		ID: types.NewPresigId(), CreatedAt: time.Now(),
	}))
	pool := presig.NewPool(self, types.ProtocolCGGMP24, threshold, ids, coordinators[self], store, facade, fakeAuxInfoPresence{}, fakeDKGConfigStore{}, presig.DefaultConfig())

	return NewCoordinator(self, types.ProtocolCGGMP24, threshold, ids, coordinators[self], pool)
}

func TestSignConsumesPresignatureAndReturnsSignedBytes(t *testing.T) {
	ids := []types.NodeId{1, 2, 3}
	coordinator := newTestSigningCoordinator(t, ids, 3, 1)

	tx := types.Transaction{ID: types.TxId("tx-1"), UnsignedBytes: []byte("unsigned")}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	signed, err := coordinator.Sign(ctx, tx)
	require.NoError(t, err)
	require.True(t, len(signed) > len(tx.UnsignedBytes))

	size, err := coordinator.pool.Size(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, size)
}

func TestSignFailsWhenPoolExhausted(t *testing.T) {
	ids := []types.NodeId{1}
	coordinator := newTestSigningCoordinator(t, ids, 1, 1)

	tx := types.Transaction{ID: types.TxId("tx-1"), UnsignedBytes: []byte("unsigned")}
	ctx := context.Background()

	_, err := coordinator.Sign(ctx, tx)
	require.NoError(t, err)

	_, err = coordinator.Sign(ctx, tx)
	require.Error(t, err)
}
