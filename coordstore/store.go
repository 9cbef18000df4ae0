// Package coordstore is the distributed-coordination store facade (§4.1): a contract over a
// strongly consistent key-value store supporting leases, TTL'd keys, atomic compare-and-swap
// puts, and prefix scans. Locks, ready barriers, heartbeats, and the presignature generation
// critical section are all built on top of this one interface.
package coordstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mpcwallet/orchestrator/types"
)

// LeaseID identifies a granted lease. Keys bound to a lease are removed automatically when the
// lease expires or is revoked — this is how a crashed lock holder's keys get cleaned up without
// anyone else having to notice the crash.
type LeaseID int64

// Store is the coordination store facade. Implementations must never error on lock contention —
// only on transport failures (§4.1 design rationale): a contended try_acquire_lock returns
// (0, false, nil), never an error.
type Store interface {
	// TryAcquireLock performs a CAS put of key, conditional on key not being present, bound to
	// a freshly granted lease with the given ttl. Returns (lease, true, nil) on success,
	// (0, false, nil) if the key is already held by someone else.
	TryAcquireLock(ctx context.Context, key string, ttl time.Duration) (LeaseID, bool, error)

	// RevokeLease terminates a lease, removing every key bound to it. This is the preferred
	// lock-release path (not key deletion — see §4.1). Idempotent: revoking an already-revoked
	// or unknown lease is not an error.
	RevokeLease(ctx context.Context, lease LeaseID) error

	// KeepAlive refreshes a lease's TTL.
	KeepAlive(ctx context.Context, lease LeaseID) error

	Put(ctx context.Context, key string, value []byte) error
	PutWithLease(ctx context.Context, key string, value []byte, lease LeaseID) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	GetPrefix(ctx context.Context, prefix string) (map[string][]byte, error)

	// CompareAndSwap atomically sets key to newValue iff its current value equals oldValue
	// (oldValue == nil means "key must not exist"). Used for vote-count increments and similar
	// numeric CAS loops.
	CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte) (bool, error)

	Close() error
}

// Facade adds the typed convenience wrappers named in §4.1 on top of a raw Store.
type Facade struct {
	Store
}

func NewFacade(store Store) *Facade {
	return &Facade{Store: store}
}

const heartbeatTTL = 5 * time.Second

func heartbeatKey(id types.NodeId) string {
	return "/nodes/" + id.String() + "/last-heartbeat"
}

// SetHeartbeat writes this node's heartbeat key with a short TTL (§4.1: "e.g. 5s"). It is
// implemented as delete-then-put-with-fresh-lease rather than KeepAlive because heartbeats are
// cheap and idempotent, and a node that was partitioned and rejoins should not resurrect a
// stale lease.
func (f *Facade) SetHeartbeat(ctx context.Context, id types.NodeId) error {
	lease, ok, err := f.TryAcquireLock(ctx, heartbeatKey(id), heartbeatTTL)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	// Key already present from a previous tick; refresh it by deleting and re-acquiring so the
	// TTL clock resets. A raw KeepAlive would require tracking the lease across ticks, which
	// the stateless health-checker loop does not do.
	if err := f.Delete(ctx, heartbeatKey(id)); err != nil {
		return err
	}
	_, _, err = f.TryAcquireLock(ctx, heartbeatKey(id), heartbeatTTL)
	return err
}

// ActiveNodes prefix-scans the heartbeat namespace and returns the live NodeIds.
func (f *Facade) ActiveNodes(ctx context.Context) ([]types.NodeId, error) {
	entries, err := f.GetPrefix(ctx, "/nodes/")
	if err != nil {
		return nil, err
	}
	seen := map[types.NodeId]bool{}
	for key := range entries {
		var raw uint32
		if _, err := fmt.Sscanf(key, "/nodes/node-%d/last-heartbeat", &raw); err == nil {
			seen[types.NodeId(raw)] = true
		}
	}
	nodes := make([]types.NodeId, 0, len(seen))
	for id := range seen {
		nodes = append(nodes, id)
	}
	return nodes, nil
}

const clusterThresholdKey = "/cluster/threshold"

func (f *Facade) SetClusterThreshold(ctx context.Context, threshold int) error {
	return f.Put(ctx, clusterThresholdKey, []byte(strconv.Itoa(threshold)))
}

func (f *Facade) GetClusterThreshold(ctx context.Context) (int, bool, error) {
	val, ok, err := f.Get(ctx, clusterThresholdKey)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.Atoi(string(val))
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// PublishDKGConfig marks protocol's DKG as complete cluster-wide, so every node's presignature
// refill loop can observe the §4.5 "DKG config present in the store" precondition without a
// relational round-trip. Implements ceremony.DKGConfigPublisher.
func (f *Facade) PublishDKGConfig(ctx context.Context, protocol types.Protocol, publicKey []byte) error {
	return f.Put(ctx, ClusterDKGConfigKey(protocol), publicKey)
}

// HasDKGConfig implements presig.DKGConfigStore.
func (f *Facade) HasDKGConfig(ctx context.Context, protocol types.Protocol) (bool, error) {
	_, ok, err := f.Get(ctx, ClusterDKGConfigKey(protocol))
	return ok, err
}
