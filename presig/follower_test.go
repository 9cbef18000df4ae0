package presig

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mpcwallet/orchestrator/ceremony"
	"github.com/mpcwallet/orchestrator/coordstore"
	cerrors "github.com/mpcwallet/orchestrator/errors"
	"github.com/mpcwallet/orchestrator/types"
	"github.com/stretchr/testify/require"
)

func TestFollowerGateRejectsOverlappingSessions(t *testing.T) {
	ids := []types.NodeId{1, 2}
	routers := newMeshCluster(ids)
	facade := coordstore.NewFacade(newFakeKVStore())
	durable := newFakeCeremonyStore()
	registry := ceremony.NewRegistry()
	coordinator := ceremony.NewCoordinator(2, facade, durable, routers[2], noopJoinBroadcaster{}, registry)
	gate := NewFollowerGate(coordinator)

	req := ceremony.CoordinatorRequest{Kind: types.CeremonyPresig, Protocol: types.ProtocolCGGMP24, Threshold: 2, Participants: ids, EngineTimeout: time.Second}

	var wg sync.WaitGroup
	wg.Add(1)
	firstStarted := make(chan struct{})
	go func() {
		defer wg.Done()
		close(firstStarted)
		// The session record never replicates, so this call busy-retries for ~2s before
		// giving up, holding the permit the whole time.
		_, _ = gate.JoinSession(context.Background(), types.NewSessionId(), req)
	}()
	<-firstStarted
	time.Sleep(20 * time.Millisecond)

	_, err := gate.JoinSession(context.Background(), types.NewSessionId(), req)
	require.Error(t, err)
	require.True(t, cerrors.IsInProgress(err))

	wg.Wait()
}

func TestFollowerGateReleasesPermitAfterCompletion(t *testing.T) {
	ids := []types.NodeId{1, 2}
	routers := newMeshCluster(ids)
	facade := coordstore.NewFacade(newFakeKVStore())
	durable := newFakeCeremonyStore()
	registry := ceremony.NewRegistry()
	coordinator := ceremony.NewCoordinator(2, facade, durable, routers[2], noopJoinBroadcaster{}, registry)
	gate := NewFollowerGate(coordinator)

	sessionID := types.NewSessionId()
	require.NoError(t, durable.CreateCeremony(context.Background(), &types.Ceremony{
		SessionID: sessionID, Protocol: types.ProtocolCGGMP24, Kind: types.CeremonyPresig,
		Threshold: 2, TotalNodes: 2, Participants: ids, Status: types.CeremonyRunning,
	}))
	_, _, err := routers[2].RegisterSession(sessionID, ids)
	require.NoError(t, err)

	req := ceremony.CoordinatorRequest{Kind: types.CeremonyPresig, Protocol: types.ProtocolCGGMP24, Threshold: 2, Participants: ids, EngineTimeout: time.Second}
	_, err = gate.JoinSession(context.Background(), sessionID, req)
	require.NoError(t, err) // duplicate-join suppression returns nil immediately, freeing the permit

	second, err := gate.JoinSession(context.Background(), types.NewSessionId(), req)
	require.Error(t, err) // unrelated session id, no ceremony record for it
	require.False(t, cerrors.IsInProgress(err))
	require.Equal(t, ceremony.Result{}, second)
}
