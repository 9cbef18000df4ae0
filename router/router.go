package router

import (
	"sync"

	cerrors "github.com/mpcwallet/orchestrator/errors"
	"github.com/mpcwallet/orchestrator/logs"
	"github.com/mpcwallet/orchestrator/transport"
	"github.com/mpcwallet/orchestrator/types"
	"github.com/mpcwallet/orchestrator/util/panics"
)

var log, _ = logs.Get("RTR ")
var spawn = panics.GoroutineWrapperFunc(log)

// Router is the message router of §4.2: it owns one (inbox, outbox) Route pair per registered
// ceremony/voting session and demultiplexes the single shared transport onto them.
type Router struct {
	self        types.NodeId
	connections ConnectionSource

	mu       sync.RWMutex
	sessions map[types.SessionId]*session
}

// New constructs a Router. self is this node's own NodeId (excluded from broadcast fan-out);
// connections resolves NodeId to a live transport.Connection for sends.
func New(self types.NodeId, connections ConnectionSource) *Router {
	return &Router{
		self:        self,
		connections: connections,
		sessions:    make(map[types.SessionId]*session),
	}
}

// RegisterSession registers sessionID with the given participant set and starts its outbound
// pump. Fails with a KindInProgress SessionAlreadyExists error if the session is already
// registered — double-checked under the write lock per §4.2's TOCTOU-safety requirement.
func (r *Router) RegisterSession(sessionID types.SessionId, participants []types.NodeId) (outbox, inbox *Route, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sessionID]; exists {
		return nil, nil, cerrors.SessionAlreadyExists(sessionID.String())
	}

	s := newSession(sessionID, participants)
	r.sessions[sessionID] = s
	spawn(func() { r.runOutboundPump(s) })
	return s.outbox, s.inbox, nil
}

// HasSession reports whether sessionID is currently registered, letting a participant join
// handler suppress a duplicate join request (§4.3.2).
func (r *Router) HasSession(sessionID types.SessionId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// UnregisterSession closes and removes sessionID's routes. Idempotent: unregistering an unknown
// or already-unregistered session is not an error.
func (r *Router) UnregisterSession(sessionID types.SessionId) error {
	r.mu.Lock()
	s, exists := r.sessions[sessionID]
	if exists {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if !exists {
		return nil
	}
	// Close outbox first so the outbound pump goroutine exits; inbox close unblocks any adapter
	// still blocked in Dequeue.
	_ = s.outbox.Close()
	_ = s.inbox.Close()
	return nil
}

// HandleIncoming is the transport listener's single entry point (§4.2): it parses the session id,
// looks up the session, deduplicates by (from, sequence), translates the sender's NodeId to its
// PartyIndex, and forwards into the session's inbox. Unknown sessions, unparseable ids, and
// non-participant senders are logged and dropped — this function never returns an error to the
// listener, since a malformed or late frame must never take down the receive loop.
func (r *Router) HandleIncoming(from types.NodeId, to *types.PartyIndex, sessionIDStr string, payload []byte, sequence uint64, isBroadcast bool) {
	sessionID, err := types.ParseSessionId(sessionIDStr)
	if err != nil {
		log.Warnf("dropping frame with unparseable session id %q from %s: %s", sessionIDStr, from, err)
		return
	}

	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		log.Debugf("dropping frame for unknown session %s from %s", sessionID, from)
		return
	}

	if !s.isParticipant(from) {
		log.Warnf("dropping frame for session %s from non-participant %s", sessionID, from)
		return
	}

	if s.markSeen(from, sequence) {
		log.Debugf("dropping duplicate frame (sender=%s, sequence=%d) for session %s", from, sequence, sessionID)
		return
	}

	partyIndex, ok := PartyIndexOf(s.participants, from)
	if !ok {
		// isParticipant already confirmed membership; this can only happen for NodeId(0), which
		// is not a valid participant to begin with.
		log.Warnf("sender %s has no valid party index in session %s", from, sessionID)
		return
	}

	if !isBroadcast && to != nil {
		addressedTo, ok := NodeIDOf(s.participants, *to)
		if ok && addressedTo != r.self {
			log.Warnf("dropping frame for session %s misaddressed to %s", sessionID, addressedTo)
			return
		}
	}

	if err := s.inbox.Enqueue(InboundMessage{From: partyIndex, Payload: payload}); err != nil {
		log.Debugf("dropping frame for session %s: %s", sessionID, err)
	}
}

// BroadcastMessage is the router-level convenience named in §4.2: it enqueues payload onto
// sessionID's outbox addressed to every participant, reusing the same outbound pump a ceremony
// engine's own broadcasts go through.
func (r *Router) BroadcastMessage(sessionID types.SessionId, payload []byte) error {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return cerrors.NotFound("session " + sessionID.String())
	}
	return s.outbox.Enqueue(OutboundMessage{To: nil, Payload: payload})
}

// runOutboundPump drains a session's outbox, translating each OutboundMessage into a transport
// frame and dispatching it: unicast to the named party's NodeId, broadcast to every other
// participant (§4.2 routing model).
func (r *Router) runOutboundPump(s *session) {
	for {
		raw, err := s.outbox.Dequeue()
		if err != nil {
			return // route closed: session torn down
		}
		msg := raw.(OutboundMessage)
		sequence := s.nextSendSequence()

		if msg.To == nil {
			for _, node := range s.participants {
				if node == r.self {
					continue
				}
				r.sendFrame(s.id, node, sequence, true, msg.Payload)
			}
			continue
		}

		node, ok := NodeIDOf(s.participants, *msg.To)
		if !ok {
			log.Warnf("session %s: outbound message addressed to unknown party %d", s.id, *msg.To)
			continue
		}
		r.sendFrame(s.id, node, sequence, false, msg.Payload)
	}
}

func (r *Router) sendFrame(sessionID types.SessionId, to types.NodeId, sequence uint64, broadcast bool, payload []byte) {
	conn, err := r.connections.ConnectionFor(to)
	if err != nil {
		log.Warnf("session %s: no connection to %s, dropping send: %s", sessionID, to, err)
		return
	}

	frame := &transport.Frame{
		Sender:    uint32(r.self),
		Sequence:  sequence,
		Broadcast: broadcast,
		Payload:   payload,
	}
	frame.SessionID = sessionIDToFrameID(sessionID)

	if err := conn.Send(frame); err != nil {
		log.Warnf("session %s: failed to send to %s: %s", sessionID, to, err)
	}
}

func sessionIDToFrameID(id types.SessionId) [16]byte {
	var out [16]byte
	copy(out[:], id[:])
	return out
}
