// Package types holds the orchestration core's shared domain model: the value types every
// other package (router, ceremony, fsm, presig, vote) passes around. None of it talks to the
// network or a store; it is pure data plus the small invariants attached to it.
package types

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// NodeId is a dense 1-based identifier for a cluster member, in [1, N].
type NodeId uint32

// PartyIndex is the 0-based index the crypto engines use. PartyIndex and NodeId are two views
// of the same participant; conversion happens at the router boundary (see router.PartyIndexOf
// and router.NodeIDOf).
type PartyIndex uint32

// ToPartyIndex converts a NodeId to its 0-based PartyIndex.
func (n NodeId) ToPartyIndex() PartyIndex {
	if n == 0 {
		panic("types: NodeId 0 has no PartyIndex")
	}
	return PartyIndex(n - 1)
}

// ToNodeId converts a PartyIndex back to its 1-based NodeId.
func (p PartyIndex) ToNodeId() NodeId {
	return NodeId(p + 1)
}

func (n NodeId) String() string { return fmt.Sprintf("node-%d", uint32(n)) }

// SessionId is the opaque identifier of a single ceremony run. Every ceremony has exactly one.
type SessionId uuid.UUID

// NewSessionId generates a fresh random SessionId.
func NewSessionId() SessionId { return SessionId(uuid.New()) }

// ParseSessionId parses a SessionId from its canonical string form.
func ParseSessionId(s string) (SessionId, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return SessionId{}, err
	}
	return SessionId(id), nil
}

func (s SessionId) String() string { return uuid.UUID(s).String() }

// MarshalJSON renders a SessionId as its canonical string form rather than a raw byte array, so
// it round-trips through the HTTP surface (§6) the same way it prints in logs.
func (s SessionId) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses a SessionId from its canonical string form.
func (s *SessionId) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseSessionId(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// StreamID derives the 64-bit transport stream identifier for this session, per §6: "stream id
// = low bits of session UUID".
func (s SessionId) StreamID() uint64 {
	u := uuid.UUID(s)
	var v uint64
	for i := 8; i < 16; i++ {
		v = (v << 8) | uint64(u[i])
	}
	return v
}

// TxId is the Bitcoin txid hex once broadcast, or a synthetic identifier before broadcast.
type TxId string

func (t TxId) String() string { return string(t) }

// PresigId uniquely identifies one precomputed presignature.
type PresigId uuid.UUID

// NewPresigId generates a fresh random PresigId.
func NewPresigId() PresigId { return PresigId(uuid.New()) }

func (p PresigId) String() string { return uuid.UUID(p).String() }

// MarshalJSON renders a PresigId as its canonical string form, mirroring SessionId.
func (p PresigId) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}
