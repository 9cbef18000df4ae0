// Package presig implements the presignature pool (§4.5): a bounded cache of precomputed signing
// material, refilled by a single elected leader and consumed by the transaction lifecycle FSM's
// signing phase. Grounded on original_source's orchestrator/src/presig_service.rs for the refill
// loop shape and SORUN #14's generate_batch locking discipline.
package presig

import (
	"context"
	"time"

	"github.com/mpcwallet/orchestrator/types"
)

// Store is the durable facet the pool needs. Implemented concretely by reldb/.
type Store interface {
	InsertPresignature(ctx context.Context, protocol types.Protocol, entry *types.Presignature) error
	CountUnused(ctx context.Context, protocol types.Protocol) (int, error)
	AcquireUnused(ctx context.Context, protocol types.Protocol) (*types.Presignature, bool, error)
	EvictExpired(ctx context.Context, protocol types.Protocol, maxAge time.Duration) (int, error)
	Stats(ctx context.Context, protocol types.Protocol) (Stats, error)
}

// Stats mirrors the counters named in §4.5: "total_generated, total_used, hourly_usage".
type Stats struct {
	TotalGenerated int64
	TotalUsed      int64
	HourlyUsage    int64
}

// AuxInfoPresence reports whether this node's in-memory aux-info for protocol is ready, the
// first of the refill loop's two preconditions (§4.5: "aux-info exists in memory").
type AuxInfoPresence interface {
	HasAuxInfo(protocol types.Protocol) bool
}

// DKGConfigStore reports whether cluster DKG config for protocol has been published, the second
// precondition (§4.5: "DKG config present in the store").
type DKGConfigStore interface {
	HasDKGConfig(ctx context.Context, protocol types.Protocol) (bool, error)
}

// Config holds the pool's tunables, named with the defaults given in §4.5.
type Config struct {
	TargetSize        int           // default 100
	MinSize           int           // default 20, refill trigger
	MaxSize           int           // default 150
	BatchSize         int           // default 1
	SettleDelay       time.Duration // default 5s, waited once after startup
	TickInterval      time.Duration // default 10s
	InterBatchDelay   time.Duration // default 2s, between sequential presignatures
	FailureDrainDelay time.Duration // default 2s, to drain stale frames after a failed round
	EngineTimeout     time.Duration // default 30s, follower + leader engine run budget
	LockTTL           time.Duration // default 2m, presignature-generation admission lock
	UnusedMaxAge      time.Duration // default 24h, eviction age for never-consumed entries
}

func DefaultConfig() Config {
	return Config{
		TargetSize:        100,
		MinSize:           20,
		MaxSize:           150,
		BatchSize:         1,
		SettleDelay:       5 * time.Second,
		TickInterval:      10 * time.Second,
		InterBatchDelay:   2 * time.Second,
		FailureDrainDelay: 2 * time.Second,
		EngineTimeout:     30 * time.Second,
		LockTTL:           2 * time.Minute,
		UnusedMaxAge:      24 * time.Hour,
	}
}

// healthySize and criticalSize are the thresholds named by §4.5's health predicates.
const (
	healthySize  = 20
	criticalSize = 10
)

// Healthy reports whether size meets the pool's "is_healthy: size >= 20" predicate.
func Healthy(size int) bool { return size >= healthySize }

// Critical reports whether size meets the pool's "is_critical: size < 10" predicate.
func Critical(size int) bool { return size < criticalSize }
