package presig

import (
	"sync"

	"github.com/mpcwallet/orchestrator/types"
)

// InMemoryAuxInfoPresence is the concrete AuxInfoPresence every node keeps for its own local
// aux-info state (§4.5: "aux-info exists in memory" — deliberately not the durable aux_info
// table, which records per-node completion for every node, not just self). It is marked ready
// once by ceremony.AuxInfoService after this node's own EnsureAuxInfo call completes; FROST never
// marks it, since FROST has no aux-info ceremony (§4.5's precondition is CGGMP24-only).
type InMemoryAuxInfoPresence struct {
	mu    sync.RWMutex
	ready map[types.Protocol]bool
}

func NewInMemoryAuxInfoPresence() *InMemoryAuxInfoPresence {
	return &InMemoryAuxInfoPresence{ready: make(map[types.Protocol]bool)}
}

// MarkReady implements ceremony.AuxInfoPresenceRecorder.
func (p *InMemoryAuxInfoPresence) MarkReady(protocol types.Protocol) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready[protocol] = true
}

// HasAuxInfo implements AuxInfoPresence.
func (p *InMemoryAuxInfoPresence) HasAuxInfo(protocol types.Protocol) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready[protocol]
}
