package ceremony

import (
	"context"
	"time"

	"github.com/mpcwallet/orchestrator/coordstore"
	"github.com/mpcwallet/orchestrator/types"
)

const auxInfoEngineTimeout = 60 * time.Second
const auxInfoLockTTL = 2 * time.Minute

// AuxInfoStore records the per-node auxiliary-information artifacts a completed CGGMP24 DKG
// requires before presigning can run, keyed by the originating DKG session (§10.2 schema:
// aux_info(session_id, node_id)). Implemented concretely by reldb/.
type AuxInfoStore interface {
	HasAuxInfo(ctx context.Context, dkgSessionID types.SessionId) (bool, error)
	RecordAuxInfo(ctx context.Context, dkgSessionID types.SessionId, nodeID types.NodeId, metadata []byte) error
}

// AuxInfoPresenceRecorder latches this node's own local aux-info readiness in memory, so
// presig.Pool's refill loop can observe §4.5's "aux-info exists in memory" precondition without a
// relational round-trip. Optional: an AuxInfoService with none set still persists RecordAuxInfo
// through AuxInfoStore as usual. Implemented concretely by presig.InMemoryAuxInfoPresence.
type AuxInfoPresenceRecorder interface {
	MarkReady(protocol types.Protocol)
}

// AuxInfoService runs the CGGMP24-only aux-info ceremony (§3) that presigning depends on. It is
// reached both via DkgService's auto-chain (§4.3.6) and directly by an operator retry endpoint.
type AuxInfoService struct {
	self        types.NodeId
	coordinator *Coordinator
	store       AuxInfoStore
	presence    AuxInfoPresenceRecorder
}

func NewAuxInfoService(self types.NodeId, coordinator *Coordinator, store AuxInfoStore) *AuxInfoService {
	return &AuxInfoService{self: self, coordinator: coordinator, store: store}
}

// SetAuxInfoPresenceRecorder installs the optional in-memory presence latch.
func (s *AuxInfoService) SetAuxInfoPresenceRecorder(p AuxInfoPresenceRecorder) {
	s.presence = p
}

// EnsureAuxInfo is idempotent: it first checks whether aux-info already exists for dkgSessionID
// and returns immediately if so, rather than relying on session isolation alone to make a second
// call a no-op (§4.3.6).
func (s *AuxInfoService) EnsureAuxInfo(ctx context.Context, dkgSessionID types.SessionId, threshold int, participants []types.NodeId) (types.Ceremony, error) {
	exists, err := s.store.HasAuxInfo(ctx, dkgSessionID)
	if err != nil {
		return types.Ceremony{}, err
	}
	if exists {
		return types.Ceremony{}, nil
	}

	req := CoordinatorRequest{
		Kind:          types.CeremonyAuxInfo,
		Protocol:      types.ProtocolCGGMP24,
		Threshold:     threshold,
		Participants:  participants,
		LockKey:       coordstore.LockDKGSessionKey(dkgSessionID),
		LockTTL:       auxInfoLockTTL,
		EngineTimeout: auxInfoEngineTimeout,
	}
	ceremony, result, err := s.coordinator.RunAsCoordinator(ctx, req)
	if err != nil {
		return ceremony, err
	}

	if err := s.store.RecordAuxInfo(ctx, dkgSessionID, s.self, result.Metadata); err != nil {
		log.Warnf("failed to persist aux-info for DKG session %s: %s", dkgSessionID, err)
	}
	if s.presence != nil {
		s.presence.MarkReady(types.ProtocolCGGMP24)
	}
	return ceremony, nil
}
