// Package health implements the cluster health checker (§4.7 supplement): a per-node background
// loop that refreshes its own heartbeat, tracks how recently every other node's heartbeat was
// last seen, and flags long-silent nodes as suspected down — logged, never banned, since only a
// proven Byzantine violation (vote/) bans a node. Grounded on
// original_source's orchestrator/src/health_checker.rs.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/mpcwallet/orchestrator/coordstore"
	"github.com/mpcwallet/orchestrator/logs"
	"github.com/mpcwallet/orchestrator/types"
)

var log, _ = logs.Get("ORCH")

// Config holds the checker's tunables.
type Config struct {
	Interval           time.Duration // default 10s, §4.7
	SuspectedDownAfter time.Duration // default 3 * heartbeat TTL (coordstore's own 5s), §4.7 step 3
}

func DefaultConfig() Config {
	return Config{
		Interval:           10 * time.Second,
		SuspectedDownAfter: 15 * time.Second,
	}
}

// NodeState is one node's entry in a health Snapshot.
type NodeState struct {
	NodeId        types.NodeId
	Active        bool
	SuspectedDown bool
	LastSeen      time.Time
}

// Snapshot is the read-only cluster membership view the GET /api/v1/cluster/health endpoint
// (§4.7 step 4) serves directly.
type Snapshot struct {
	Nodes     []NodeState
	CheckedAt time.Time
}

// StatusRecorder durably records a node status transition into the node_status audit table
// (§10.2 schema). Optional: the checker's Snapshot remains the live source of truth for
// GET /api/v1/cluster/health regardless of whether a recorder is installed.
type StatusRecorder interface {
	RecordNodeStatus(ctx context.Context, nodeID types.NodeId, status string, detail string) error
}

// Checker is the per-node health-check loop.
type Checker struct {
	self     types.NodeId
	coord    *coordstore.Facade
	cfg      Config
	recorder StatusRecorder

	mu       sync.RWMutex
	lastSeen map[types.NodeId]time.Time
	wasDown  map[types.NodeId]bool
	snapshot Snapshot
}

func NewChecker(self types.NodeId, coord *coordstore.Facade, cfg Config) *Checker {
	return &Checker{
		self:     self,
		coord:    coord,
		cfg:      cfg,
		lastSeen: make(map[types.NodeId]time.Time),
		wasDown:  make(map[types.NodeId]bool),
	}
}

// SetStatusRecorder installs the optional durable node_status recorder (§10.2 schema).
func (c *Checker) SetStatusRecorder(r StatusRecorder) {
	c.recorder = r
}

// Run ticks the checker every cfg.Interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick runs one refresh-and-scan cycle. Exported so tests can drive it without waiting on the
// ticker.
func (c *Checker) Tick(ctx context.Context) {
	if err := c.coord.SetHeartbeat(ctx, c.self); err != nil {
		log.Warnf("health: refreshing own heartbeat: %s", err)
	}

	active, err := c.coord.ActiveNodes(ctx)
	if err != nil {
		log.Warnf("health: scanning active nodes: %s", err)
		return
	}
	activeSet := make(map[types.NodeId]bool, len(active))
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range active {
		activeSet[n] = true
		c.lastSeen[n] = now
	}

	nodes := make([]NodeState, 0, len(c.lastSeen))
	for n, seen := range c.lastSeen {
		suspected := !activeSet[n] && now.Sub(seen) > c.cfg.SuspectedDownAfter
		if suspected {
			log.Warnf("health: node %s suspected down, last seen %s ago", n, now.Sub(seen))
			if !c.wasDown[n] && c.recorder != nil {
				if err := c.recorder.RecordNodeStatus(ctx, n, "suspected_down", now.Sub(seen).String()); err != nil {
					log.Warnf("health: recording durable node status for %s: %s", n, err)
				}
			}
		}
		c.wasDown[n] = suspected
		nodes = append(nodes, NodeState{NodeId: n, Active: activeSet[n], SuspectedDown: suspected, LastSeen: seen})
	}
	c.snapshot = Snapshot{Nodes: nodes, CheckedAt: now}
}

// Snapshot returns the most recently computed cluster view.
func (c *Checker) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}
