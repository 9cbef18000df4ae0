// Package ceremony implements the ceremony coordinator (§4.3): the common skeleton shared by DKG,
// AuxInfo generation, and presignature generation (signing reuses it too, via presig/), plus the
// DKG- and AuxInfo-specific services. Grounded on original_source's dkg_service.rs/
// presig_service.rs for the skeleton itself, and on the teacher's app/protocol/flowcontext idiom
// for the "one struct holds the cross-cutting shared state, flows are functions over it" shape.
package ceremony

import (
	"context"

	"github.com/mpcwallet/orchestrator/types"
)

// Result is what a completed ceremony produces. Which fields are meaningful depends on Kind:
// DKG sets PublicKey; AuxInfo and Presig set Metadata to an opaque blob; Signing sets Metadata to
// the final signature bytes.
type Result struct {
	PublicKey []byte
	Metadata  []byte
}

// Engine is the contract every crypto engine variant satisfies (§4.3.5 supplement). The real MPC
// math is out of scope (§1 Non-goals); this module ships stub engines that satisfy the contract
// and simulate round completion, so the orchestration logic around them — barrier, dedup, cleanup
// ordering, timeouts — is exercised end to end exactly as it would be against a real engine.
type Engine interface {
	Run(ctx context.Context, session Session, partyIndex, totalParties, threshold int) (Result, error)
}

type registryKey struct {
	protocol types.Protocol
	kind     types.CeremonyKind
}

// Registry resolves an Engine by (Protocol, Kind), mirroring the teacher's flow-registration
// pattern of keying handlers by a small enum pair rather than a string.
type Registry struct {
	engines map[registryKey]Engine
}

// NewRegistry builds a Registry pre-populated with the stub engine for every variant named in
// §4.3.5: CGGMP24-DKG, FROST-DKG, CGGMP24-AuxInfo, CGGMP24-Presig, CGGMP24-Signing, FROST-Signing.
func NewRegistry() *Registry {
	r := &Registry{engines: make(map[registryKey]Engine)}
	r.Register(types.ProtocolCGGMP24, types.CeremonyDKG, &stubEngine{producesKey: true})
	r.Register(types.ProtocolFROST, types.CeremonyDKG, &stubEngine{producesKey: true})
	r.Register(types.ProtocolCGGMP24, types.CeremonyAuxInfo, &stubEngine{})
	r.Register(types.ProtocolCGGMP24, types.CeremonyPresig, &stubEngine{})
	r.Register(types.ProtocolFROST, types.CeremonyPresig, &stubEngine{})
	r.Register(types.ProtocolCGGMP24, types.CeremonySigning, &stubEngine{})
	r.Register(types.ProtocolFROST, types.CeremonySigning, &stubEngine{})
	return r
}

// Register installs engine for (protocol, kind), overwriting any prior registration. Exposed so
// tests can substitute a faster or misbehaving engine.
func (r *Registry) Register(protocol types.Protocol, kind types.CeremonyKind, engine Engine) {
	r.engines[registryKey{protocol, kind}] = engine
}

// Lookup resolves the engine for (protocol, kind), reporting false if none is registered.
func (r *Registry) Lookup(protocol types.Protocol, kind types.CeremonyKind) (Engine, bool) {
	e, ok := r.engines[registryKey{protocol, kind}]
	return e, ok
}
