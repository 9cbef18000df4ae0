// Package signing resolves the distilled spec's mock-signed-transaction Open Question (§10.3 of
// the expanded spec): it implements fsm.SigningCoordinator by consuming one presignature from
// presig/'s pool and running the CGGMP24-Signing/FROST-Signing engine contract through
// ceremony.Coordinator, the same admission-lock-then-skeleton shape presig/'s own generateBatch
// uses for CeremonyPresig. The engine itself remains the stub registered in ceremony.NewRegistry
// (the real MPC math is out of scope, §1 Non-goals); what this package exercises is the full
// presignature-consumption and ceremony-skeleton path around that stub.
package signing

import (
	"context"
	"sort"
	"time"

	"github.com/mpcwallet/orchestrator/ceremony"
	"github.com/mpcwallet/orchestrator/coordstore"
	"github.com/mpcwallet/orchestrator/logs"
	"github.com/mpcwallet/orchestrator/presig"
	"github.com/mpcwallet/orchestrator/types"
	"github.com/pkg/errors"
)

var log, _ = logs.Get("CRM ")

const signingLockTTL = 2 * time.Minute
const signingEngineTimeout = 30 * time.Second

// Coordinator implements fsm.SigningCoordinator for one protocol.
type Coordinator struct {
	self        types.NodeId
	protocol    types.Protocol
	threshold   int
	allNodes    []types.NodeId
	coordinator *ceremony.Coordinator
	pool        *presig.Pool
}

func NewCoordinator(self types.NodeId, protocol types.Protocol, threshold int, allNodes []types.NodeId, coordinator *ceremony.Coordinator, pool *presig.Pool) *Coordinator {
	return &Coordinator{
		self: self, protocol: protocol, threshold: threshold, allNodes: allNodes,
		coordinator: coordinator, pool: pool,
	}
}

// Sign implements fsm.SigningCoordinator (§4.4's Approved→Signing→Signed transition): it acquires
// exactly one presignature, runs the signing ceremony as coordinator over the selected
// participant set, and returns the stub engine's result as the transaction's signed bytes. The
// acquired presignature is consumed unconditionally — AcquireUnused already marked it used before
// this call ever ran, so a ceremony failure here does not return it to the pool, matching §4.5's
// "acquire_presignature" semantics (a burnt presignature on a failed signing attempt is expected,
// not a bug to route around).
func (c *Coordinator) Sign(ctx context.Context, tx types.Transaction) ([]byte, error) {
	entry, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquiring presignature for signing")
	}

	req := ceremony.CoordinatorRequest{
		Kind:          types.CeremonySigning,
		Protocol:      c.protocol,
		Threshold:     c.threshold,
		Participants:  c.selectParticipants(),
		LockKey:       coordstore.LockSigningKey(tx.ID),
		LockTTL:       signingLockTTL,
		EngineTimeout: signingEngineTimeout,
	}

	_, result, err := c.coordinator.RunAsCoordinator(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "running signing ceremony for tx %s with presignature %s", tx.ID, entry.ID)
	}

	log.Debugf("signed tx %s using presignature %s", tx.ID, entry.ID)
	return append(append([]byte{}, tx.UnsignedBytes...), result.Metadata...), nil
}

// selectParticipants mirrors presig.Pool's own leader-plus-lowest-indexed-others selection
// (§4.5), since a signing ceremony draws from the same cluster and needs the same
// threshold-sized, deterministic participant set.
func (c *Coordinator) selectParticipants() []types.NodeId {
	others := make([]types.NodeId, 0, len(c.allNodes))
	for _, n := range c.allNodes {
		if n != c.self {
			others = append(others, n)
		}
	}
	sort.Slice(others, func(i, j int) bool { return others[i] < others[j] })

	participants := make([]types.NodeId, 0, c.threshold)
	participants = append(participants, c.self)
	for _, n := range others {
		if len(participants) >= c.threshold {
			break
		}
		participants = append(participants, n)
	}
	return participants
}
