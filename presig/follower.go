package presig

import (
	"context"

	"github.com/mpcwallet/orchestrator/ceremony"
	cerrors "github.com/mpcwallet/orchestrator/errors"
	"github.com/mpcwallet/orchestrator/types"
)

// FollowerGate runs the follower side of a presignature session (§4.5: "join_presignature_session
// ... gated by a single-permit semaphore so a participant never has two overlapping presignature
// protocols in flight"). It is a thin wrapper around Coordinator.RunAsParticipant; the permit is
// what the coordinator skeleton's own duplicate-join suppression does not cover, since two
// distinct sessions (not a retry of the same one) could otherwise overlap.
type FollowerGate struct {
	coordinator *ceremony.Coordinator
	permit      chan struct{}
}

func NewFollowerGate(coordinator *ceremony.Coordinator) *FollowerGate {
	g := &FollowerGate{coordinator: coordinator, permit: make(chan struct{}, 1)}
	g.permit <- struct{}{}
	return g
}

// JoinSession attempts to join sessionID as a presignature-protocol follower. If another
// presignature session already holds the permit, it returns immediately with a KindInProgress
// error rather than queuing, the same "not an error, just busy" disposition generate_batch uses
// for its own admission lock.
func (g *FollowerGate) JoinSession(ctx context.Context, sessionID types.SessionId, req ceremony.CoordinatorRequest) (ceremony.Result, error) {
	select {
	case <-g.permit:
	default:
		return ceremony.Result{}, cerrors.CeremonyInProgress("presignature follower session " + sessionID.String())
	}
	defer func() { g.permit <- struct{}{} }()

	return g.coordinator.RunAsParticipant(ctx, sessionID, req)
}
