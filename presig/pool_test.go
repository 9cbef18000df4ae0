package presig

import (
	"context"
	"testing"
	"time"

	"github.com/mpcwallet/orchestrator/ceremony"
	"github.com/mpcwallet/orchestrator/coordstore"
	"github.com/mpcwallet/orchestrator/types"
	"github.com/stretchr/testify/require"
)

func testPoolConfig() Config {
	cfg := DefaultConfig()
	cfg.SettleDelay = 0
	cfg.TickInterval = time.Millisecond
	cfg.InterBatchDelay = 0
	cfg.FailureDrainDelay = 0
	cfg.EngineTimeout = 2 * time.Second
	cfg.LockTTL = time.Minute
	return cfg
}

// meshJoinBroadcaster models the HTTP join fan-out (§4.3.1 step 3) the same way
// ceremony/coordinator_test.go's testJoinBroadcaster does: directly invoking each peer's
// RunAsParticipant. One instance per node, since the fan-out must skip whichever node is
// currently acting as coordinator.
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
			req := ceremony.CoordinatorRequest{
				Kind: kind, Protocol: protocol, Threshold: threshold,
				Participants: participants, EngineTimeout: b.engineTimeout,
			}
			_, _ = c.RunAsParticipant(context.Background(), sessionID, req)
		}(coordinator)
	}
}

func newTestPools(t *testing.T, ids []types.NodeId, threshold int) (map[types.NodeId]*Pool, *fakeKVStore) {
	t.Helper()
	routers := newMeshCluster(ids)
	kv := newFakeKVStore()
	facade := coordstore.NewFacade(kv)
	durable := newFakeCeremonyStore()
	registry := ceremony.NewRegistry()
	cfg := testPoolConfig()

	coordinators := make(map[types.NodeId]*ceremony.Coordinator, len(ids))
	broadcasters := make(map[types.NodeId]*meshJoinBroadcaster, len(ids))
	for _, id := range ids {
		b := &meshJoinBroadcaster{self: id, coordinators: map[types.NodeId]*ceremony.Coordinator{}, engineTimeout: cfg.EngineTimeout}
		broadcasters[id] = b
		coordinators[id] = ceremony.NewCoordinator(id, facade, durable, routers[id], b, registry)
	}
	for _, id := range ids {
		for _, other := range ids {
			broadcasters[id].coordinators[other] = coordinators[other]
		}
	}

	pools := make(map[types.NodeId]*Pool, len(ids))
	for _, id := range ids {
		pools[id] = NewPool(id, types.ProtocolCGGMP24, threshold, ids, coordinators[id], newFakePresigStore(), facade, newFakeAuxInfoPresence(), newFakeDKGConfigStore(), cfg)
	}

	for _, id := range ids {
		require.NoError(t, facade.SetHeartbeat(context.Background(), id))
	}

	return pools, kv
}

func TestIsLeaderPicksLowestActiveNode(t *testing.T) {
	ids := []types.NodeId{3, 1, 2}
	pools, _ := newTestPools(t, ids, 3)

	leader, err := pools[1].isLeader(context.Background())
	require.NoError(t, err)
	require.True(t, leader)

	for _, id := range []types.NodeId{2, 3} {
		leader, err := pools[id].isLeader(context.Background())
		require.NoError(t, err)
		require.False(t, leader)
	}
}

func TestSelectParticipantsIncludesSelfAndLowestOthers(t *testing.T) {
	ids := []types.NodeId{5, 4, 3, 2, 1}
	pools, _ := newTestPools(t, ids, 3)

	participants := pools[5].selectParticipants()
	require.ElementsMatch(t, []types.NodeId{5, 1, 2}, participants)
}

func TestTickGeneratesBatchWhenBelowMinSize(t *testing.T) {
	ids := []types.NodeId{1, 2, 3}
	pools, _ := newTestPools(t, ids, 3)
	leader := pools[1]
	leader.auxInfo.(*fakeAuxInfoPresence).set(types.ProtocolCGGMP24, true)
	leader.dkgConfig.(*fakeDKGConfigStore).set(types.ProtocolCGGMP24, true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	leader.tick(ctx)

	size, err := leader.Size(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, size)
}

func TestTickSkipsWhenPreconditionsMissing(t *testing.T) {
	ids := []types.NodeId{1, 2, 3}
	pools, _ := newTestPools(t, ids, 3)
	leader := pools[1]
	// aux-info and dkg config both left absent.

	leader.tick(context.Background())

	size, err := leader.Size(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, size)
}

func TestTickIsNoopForNonLeader(t *testing.T) {
	ids := []types.NodeId{1, 2, 3}
	pools, _ := newTestPools(t, ids, 3)
	follower := pools[2]
	follower.auxInfo.(*fakeAuxInfoPresence).set(types.ProtocolCGGMP24, true)
	follower.dkgConfig.(*fakeDKGConfigStore).set(types.ProtocolCGGMP24, true)

	follower.tick(context.Background())

	size, err := follower.Size(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, size)
}

func TestAcquireMarksEntryUsed(t *testing.T) {
	ids := []types.NodeId{1}
	pools, _ := newTestPools(t, ids, 1)
	p := pools[1]
	require.NoError(t, p.store.InsertPresignature(context.Background(), types.ProtocolCGGMP24, &types.Presignature{ID: types.NewPresigId(), CreatedAt: time.Now()}))

	entry, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, entry)

	_, err = p.Acquire(context.Background())
	require.Error(t, err)
}

func TestHealthPredicates(t *testing.T) {
	require.True(t, Healthy(20))
	require.False(t, Healthy(19))
	require.True(t, Critical(9))
	require.False(t, Critical(10))
}

func TestEvictExpiredRemovesStaleUnusedEntries(t *testing.T) {
	ids := []types.NodeId{1}
	pools, _ := newTestPools(t, ids, 1)
	p := pools[1]
	store := p.store.(*fakePresigStore)
	store.entries = append(store.entries,
		&types.Presignature{ID: types.NewPresigId(), CreatedAt: time.Now().Add(-48 * time.Hour)},
		&types.Presignature{ID: types.NewPresigId(), CreatedAt: time.Now()},
	)

	evicted, err := store.EvictExpired(context.Background(), types.ProtocolCGGMP24, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, evicted)
	require.Len(t, store.entries, 1)
}
