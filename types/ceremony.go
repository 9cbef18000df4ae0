package types

import "time"

// Ceremony is the durable record of one coordinator-driven ceremony run (§3): DKG, AuxInfo,
// presignature generation and signing runs all get one, told apart by Kind. The signing material
// a presignature run produces is stored separately, as a Presignature entry.
type Ceremony struct {
	SessionID    SessionId
	Protocol     Protocol
	Kind         CeremonyKind
	Threshold    int
	TotalNodes   int
	Participants []NodeId
	Status       CeremonyStatus
	CurrentRound int
	StartedAt    time.Time
	CompletedAt  *time.Time
	PublicKey    []byte // 33-byte compressed secp256k1 (CGGMP24) or 32-byte x-only (FROST)
	Address      string
	Error        string
}

// Presignature is one unit of precomputed signing material (§3).
type Presignature struct {
	ID            PresigId
	MetadataBytes []byte
	CreatedAt     time.Time
	Used          bool
}

// Expired reports whether this presignature is older than maxAge and still unused — the pool's
// 24h eviction rule.
func (p *Presignature) Expired(now time.Time, maxAge time.Duration) bool {
	return !p.Used && now.Sub(p.CreatedAt) >= maxAge
}
