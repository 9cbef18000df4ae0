package router

import (
	"sync"

	cerrors "github.com/mpcwallet/orchestrator/errors"
	"github.com/mpcwallet/orchestrator/transport"
	"github.com/mpcwallet/orchestrator/types"
)

// ConnectionSource resolves a NodeId to the live transport.Connection carrying traffic for it.
// Implemented by PeerRegistry; split out as an interface so ceremony/fsm code under test can
// supply a fake without a real transport.
type ConnectionSource interface {
	ConnectionFor(id types.NodeId) (transport.Connection, error)
}

// PeerRegistry is the single NodeId-to-Connection map shared by the router (for session traffic)
// and the health checker / vote broadcaster (§4.7/§4.8, which address peers directly rather than
// through a ceremony session). A connection is registered once its remote end identifies itself
// via the first frame it sends (handshake-by-first-message, same as the teacher's
// netadapter.NetAdapter.registerConnection, which learns the peer ID from the first versioned
// message rather than out-of-band).
type PeerRegistry struct {
	mu     sync.RWMutex
	byNode map[types.NodeId]transport.Connection
}

func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{byNode: make(map[types.NodeId]transport.Connection)}
}

// Register associates id with conn, replacing any prior connection for that node (a reconnect).
func (r *PeerRegistry) Register(id types.NodeId, conn transport.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byNode[id] = conn
}

// Unregister removes id if its current connection is conn (a stale Disconnect callback racing a
// newer Register must not clobber the newer connection).
func (r *PeerRegistry) Unregister(id types.NodeId, conn transport.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.byNode[id]; ok && current == conn {
		delete(r.byNode, id)
	}
}

// ConnectionFor returns the live connection for id, or NotFound if the peer is not currently
// connected.
func (r *PeerRegistry) ConnectionFor(id types.NodeId) (transport.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byNode[id]
	if !ok {
		return nil, cerrors.NotFound("connection for " + id.String())
	}
	return conn, nil
}

// ActivePeers returns the NodeIds currently registered, in no particular order.
func (r *PeerRegistry) ActivePeers() []types.NodeId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodes := make([]types.NodeId, 0, len(r.byNode))
	for id := range r.byNode {
		nodes = append(nodes, id)
	}
	return nodes
}
