package ceremony

import (
	"context"
	"sync"
	"time"

	"github.com/mpcwallet/orchestrator/coordstore"
	"github.com/mpcwallet/orchestrator/types"
)

// dkgLockTTL must comfortably exceed the ready barrier plus the engine's own hard timeout, since
// the admission lock is held for the whole ceremony (§4.3.1).
const dkgLockTTL = 2 * time.Minute
const dkgEngineTimeout = 60 * time.Second

// AddressDeriver turns a ceremony's resulting public key into a Bitcoin address, keyed by
// protocol (CGGMP24 → P2WPKH/P2WSH, FROST → P2TR). Implemented concretely by bitcoin/.
type AddressDeriver interface {
	DeriveAddress(protocol types.Protocol, publicKey []byte) (string, error)
}

// DKGConfigPublisher publishes a completed DKG's cluster config, so presig/'s refill-loop
// precondition (§4.5: "DKG config present in the store") can observe it cluster-wide without a
// relational round-trip. Optional: a DkgService with none set still persists the ceremony record
// and derived address through CeremonyStore; this only adds the cheap cluster-visible flag.
// Implemented concretely by coordstore.Facade.
type DKGConfigPublisher interface {
	PublishDKGConfig(ctx context.Context, protocol types.Protocol, publicKey []byte) error
}

// DkgService runs the distributed key-generation ceremony (§3: "one-shot per protocol"). It is
// part of the DkgService → PresignatureService → AuxInfoService → DkgService cycle named by the
// spec; the cycle is broken by a late-bound, mutex-guarded back-reference to AuxInfoService
// (§9), installed after all three services exist.
type DkgService struct {
	coordinator *Coordinator
	durable     CeremonyStore
	addresses   AddressDeriver

	mu        sync.Mutex
	auxInfo   *AuxInfoService
	publisher DKGConfigPublisher
}

func NewDkgService(coordinator *Coordinator, durable CeremonyStore, addresses AddressDeriver) *DkgService {
	return &DkgService{coordinator: coordinator, durable: durable, addresses: addresses}
}

// SetAuxInfoService installs the back-reference used for AuxInfo auto-chaining (§4.3.6). Called
// once during wiring, after both services have been constructed.
func (s *DkgService) SetAuxInfoService(a *AuxInfoService) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auxInfo = a
}

// SetDKGConfigPublisher installs the optional cluster-config publisher.
func (s *DkgService) SetDKGConfigPublisher(p DKGConfigPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
}

// Initiate admits and runs a new DKG ceremony. On success it derives and persists the resulting
// address, and, for CGGMP24, fires the AuxInfo auto-chain in the background (§4.3.6) without
// making the caller wait on it — AuxInfo is a prerequisite for presigning, not for reporting the
// DKG result.
func (s *DkgService) Initiate(ctx context.Context, protocol types.Protocol, threshold int, participants []types.NodeId) (types.Ceremony, error) {
	req := CoordinatorRequest{
		Kind:          types.CeremonyDKG,
		Protocol:      protocol,
		Threshold:     threshold,
		Participants:  participants,
		LockKey:       coordstore.LockDKG,
		LockTTL:       dkgLockTTL,
		EngineTimeout: dkgEngineTimeout,
	}
	ceremony, result, err := s.coordinator.RunAsCoordinator(ctx, req)
	if err != nil {
		return ceremony, err
	}

	if address, addrErr := s.addresses.DeriveAddress(protocol, result.PublicKey); addrErr != nil {
		log.Warnf("failed to derive address for completed DKG session %s: %s", ceremony.SessionID, addrErr)
	} else {
		ceremony.Address = address
		if err := s.durable.UpdateCeremonyAddress(ctx, ceremony.SessionID, address); err != nil {
			log.Warnf("failed to persist address for DKG session %s: %s", ceremony.SessionID, err)
		}
	}

	s.mu.Lock()
	publisher := s.publisher
	s.mu.Unlock()
	if publisher != nil {
		if err := publisher.PublishDKGConfig(ctx, protocol, result.PublicKey); err != nil {
			log.Warnf("failed to publish cluster DKG config for session %s: %s", ceremony.SessionID, err)
		}
	}

	if protocol == types.ProtocolCGGMP24 {
		s.mu.Lock()
		aux := s.auxInfo
		s.mu.Unlock()
		if aux != nil {
			dkgSessionID := ceremony.SessionID
			spawn(func() {
				auxCtx, cancel := context.WithTimeout(context.Background(), auxInfoEngineTimeout+readyBarrierTimeout+5*time.Second)
				defer cancel()
				if _, err := aux.EnsureAuxInfo(auxCtx, dkgSessionID, threshold, participants); err != nil {
					log.Warnf("auto-chained aux-info generation failed for DKG session %s: %s", dkgSessionID, err)
				}
			})
		}
	}

	return ceremony, nil
}
