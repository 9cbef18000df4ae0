package router

import (
	"sync"

	"github.com/mpcwallet/orchestrator/types"
)

// dedupKey identifies one delivered wire frame for the duplicate-suppression set (§4.2): "the
// receive side of every session tracks a set of (sender, sequence) pairs already delivered".
type dedupKey struct {
	sender   types.NodeId
	sequence uint64
}

type session struct {
	id           types.SessionId
	participants []types.NodeId

	inbox  *Route
	outbox *Route

	seenMu sync.Mutex
	seen   map[dedupKey]struct{}

	sendSeq uint64
	seqMu   sync.Mutex
}

func newSession(id types.SessionId, participants []types.NodeId) *session {
	return &session{
		id:           id,
		participants: append([]types.NodeId(nil), participants...),
		inbox:        NewRoute(),
		outbox:       NewRoute(),
		seen:         make(map[dedupKey]struct{}),
	}
}

// isParticipant reports whether node is one of this session's participants.
func (s *session) isParticipant(node types.NodeId) bool {
	for _, p := range s.participants {
		if p == node {
			return true
		}
	}
	return false
}

// markSeen records (sender, sequence) and reports whether it was already seen.
func (s *session) markSeen(sender types.NodeId, sequence uint64) (duplicate bool) {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	key := dedupKey{sender: sender, sequence: sequence}
	if _, ok := s.seen[key]; ok {
		return true
	}
	s.seen[key] = struct{}{}
	return false
}

// nextSendSequence returns this session's next outgoing sequence number.
func (s *session) nextSendSequence() uint64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.sendSeq++
	return s.sendSeq
}

// PartyIndexOf resolves node's PartyIndex within participants, returning false if node is not a
// participant. See types.NodeId's doc comment: NodeId/PartyIndex are 1:1 offset by one regardless
// of which subset of the cluster participants names (signing may use a non-contiguous subset,
// §4.2), so this is a membership check plus a direct conversion rather than a position lookup.
func PartyIndexOf(participants []types.NodeId, node types.NodeId) (types.PartyIndex, bool) {
	for _, p := range participants {
		if p == node {
			return node.ToPartyIndex(), true
		}
	}
	return 0, false
}

// NodeIDOf is PartyIndexOf's inverse: resolves the NodeId behind a PartyIndex, validating that
// the resulting node is actually one of participants.
func NodeIDOf(participants []types.NodeId, party types.PartyIndex) (types.NodeId, bool) {
	node := party.ToNodeId()
	for _, p := range participants {
		if p == node {
			return node, true
		}
	}
	return 0, false
}
