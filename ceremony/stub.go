package ceremony

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"github.com/pkg/errors"
)

// stubEngine simulates a single-round MPC protocol: every party broadcasts one payload and waits
// to receive one from every other party, then derives a deterministic Result from the session id
// alone. It exists purely to exercise the orchestration machinery above it (ready
// barrier, adapters, dedup, timeout, cleanup) without implementing real threshold cryptography,
// which is out of scope (§1 Non-goals).
type stubEngine struct {
	producesKey bool
}

func (e *stubEngine) Run(ctx context.Context, session Session, partyIndex, totalParties, threshold int) (Result, error) {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(partyIndex))

	select {
	case session.Outbound <- EngineMessage{To: nil, Payload: payload}:
	case <-ctx.Done():
		return Result{}, errors.Wrap(ctx.Err(), "stub engine: broadcasting round message")
	}

	received := map[int]bool{partyIndex: true}
	for len(received) < totalParties {
		select {
		case msg, ok := <-session.Inbound:
			if !ok {
				return Result{}, errors.New("stub engine: session inbound closed before round completed")
			}
			received[int(msg.From)] = true
		case <-ctx.Done():
			return Result{}, errors.Wrap(ctx.Err(), "stub engine: waiting for round messages")
		}
	}

	digest := sha256.Sum256([]byte(session.ID.String()))
	result := Result{Metadata: digest[:]}
	if e.producesKey {
		// 33 bytes: a compressed-secp256k1-shaped prefix byte plus the 32-byte digest, standing
		// in for a real DKG-derived public key.
		result.PublicKey = append([]byte{0x02}, digest[:]...)
	}
	return result, nil
}
