package presig

import (
	"context"

	cerrors "github.com/mpcwallet/orchestrator/errors"
	"github.com/mpcwallet/orchestrator/types"
)

// Acquire marks the first unused presignature used and returns it (§4.5: "acquire_presignature").
// Callers are the transaction lifecycle FSM's signing phase, consuming exactly one entry per
// transaction.
func (p *Pool) Acquire(ctx context.Context) (*types.Presignature, error) {
	entry, ok, err := p.store.AcquireUnused(ctx, p.protocol)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cerrors.NotFound("unused presignature for protocol " + string(p.protocol))
	}
	return entry, nil
}

// Stats reports the pool's usage counters (§4.5: total_generated, total_used, hourly_usage).
func (p *Pool) Stats(ctx context.Context) (Stats, error) {
	return p.store.Stats(ctx, p.protocol)
}

// Size reports the current count of unused presignatures, the figure the health predicates and
// the refill loop's min_size check both compare against.
func (p *Pool) Size(ctx context.Context) (int, error) {
	return p.store.CountUnused(ctx, p.protocol)
}

// IsHealthy and IsCritical expose §4.5's health predicates for the health/ snapshot and the
// cluster-health HTTP endpoint.
func (p *Pool) IsHealthy(ctx context.Context) (bool, error) {
	size, err := p.Size(ctx)
	if err != nil {
		return false, err
	}
	return Healthy(size), nil
}

func (p *Pool) IsCritical(ctx context.Context) (bool, error) {
	size, err := p.Size(ctx)
	if err != nil {
		return false, err
	}
	return Critical(size), nil
}
