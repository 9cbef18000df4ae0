package presig

import (
	"context"
	"sync"
	"time"

	"github.com/mpcwallet/orchestrator/router"
	"github.com/mpcwallet/orchestrator/transport"
	"github.com/mpcwallet/orchestrator/types"
)

// meshConnection/meshConnectionSource/newMeshCluster mirror the ceremony package's in-process
// transport simulation (ceremony/coordinator_test.go), duplicated here since transport test
// doubles aren't exported across package boundaries.
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

// fakeCeremonyStore is an in-memory ceremony.CeremonyStore.
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

// noopJoinBroadcaster is used where a test never expects a join fan-out (single-node harnesses).
type noopJoinBroadcaster struct{}

func (noopJoinBroadcaster) BroadcastJoin(ctx context.Context, kind types.CeremonyKind, sessionID types.SessionId, protocol types.Protocol, threshold, totalNodes int, participants []types.NodeId) {
}

// fakePresigStore is an in-memory presig.Store.
type fakePresigStore struct {
	mu      sync.Mutex
	entries []*types.Presignature
	used    int64
}

func newFakePresigStore() *fakePresigStore {
	return &fakePresigStore{}
}

func (s *fakePresigStore) InsertPresignature(ctx context.Context, protocol types.Protocol, entry *types.Presignature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.entries = append(s.entries, &cp)
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
			s.used++
			cp := *e
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (s *fakePresigStore) EvictExpired(ctx context.Context, protocol types.Protocol, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	kept := s.entries[:0]
	evicted := 0
	for _, e := range s.entries {
		if e.Expired(now, maxAge) {
			evicted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return evicted, nil
}

func (s *fakePresigStore) Stats(ctx context.Context, protocol types.Protocol) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{TotalGenerated: int64(len(s.entries)) + s.used, TotalUsed: s.used}, nil
}

// fakeAuxInfoPresence and fakeDKGConfigStore back the refill loop's two preconditions.
type fakeAuxInfoPresence struct {
	mu      sync.Mutex
	present map[types.Protocol]bool
}

func newFakeAuxInfoPresence() *fakeAuxInfoPresence {
	return &fakeAuxInfoPresence{present: make(map[types.Protocol]bool)}
}

func (f *fakeAuxInfoPresence) HasAuxInfo(protocol types.Protocol) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present[protocol]
}

func (f *fakeAuxInfoPresence) set(protocol types.Protocol, has bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present[protocol] = has
}

type fakeDKGConfigStore struct {
	mu      sync.Mutex
	present map[types.Protocol]bool
}

func newFakeDKGConfigStore() *fakeDKGConfigStore {
	return &fakeDKGConfigStore{present: make(map[types.Protocol]bool)}
}

func (f *fakeDKGConfigStore) HasDKGConfig(ctx context.Context, protocol types.Protocol) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present[protocol], nil
}

func (f *fakeDKGConfigStore) set(protocol types.Protocol, has bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present[protocol] = has
}
