package presig

import (
	"context"
	"sort"
	"time"

	"github.com/mpcwallet/orchestrator/ceremony"
	"github.com/mpcwallet/orchestrator/coordstore"
	cerrors "github.com/mpcwallet/orchestrator/errors"
	"github.com/mpcwallet/orchestrator/logs"
	"github.com/mpcwallet/orchestrator/types"
)

var log, _ = logs.Get("PSIG")

// Pool owns the refill loop for one protocol's presignature cache. Only the elected leader's
// refill loop does real work (§4.5: "NodeId=1 is the coordinator... non-leader nodes' refill
// loops are gated off"); every node still runs a Pool so it can serve as a follower.
type Pool struct {
	self        types.NodeId
	protocol    types.Protocol
	threshold   int
	allNodes    []types.NodeId
	coordinator *ceremony.Coordinator
	store       Store
	coord       *coordstore.Facade
	auxInfo     AuxInfoPresence
	dkgConfig   DKGConfigStore
	cfg         Config
}

func NewPool(self types.NodeId, protocol types.Protocol, threshold int, allNodes []types.NodeId, coordinator *ceremony.Coordinator, store Store, coord *coordstore.Facade, auxInfo AuxInfoPresence, dkgConfig DKGConfigStore, cfg Config) *Pool {
	return &Pool{
		self: self, protocol: protocol, threshold: threshold, allNodes: allNodes,
		coordinator: coordinator, store: store, coord: coord,
		auxInfo: auxInfo, dkgConfig: dkgConfig, cfg: cfg,
	}
}

// Run is the leader's refill loop (§4.5): wait out the settle delay once, then tick forever at
// TickInterval until ctx is cancelled. Non-leader ticks are cheap no-ops (one ActiveNodes scan).
func (p *Pool) Run(ctx context.Context) {
	select {
	case <-time.After(p.cfg.SettleDelay):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick runs one refill-loop iteration. Exported logic is kept unexported and driven through Run;
// tests call it directly to avoid waiting on real tickers.
func (p *Pool) tick(ctx context.Context) {
	leader, err := p.isLeader(ctx)
	if err != nil {
		log.Warnf("refill loop: checking leadership: %s", err)
		return
	}
	if !leader {
		return
	}

	// Preconditions (§4.5 step 2): missing either one is not logged, to avoid spamming while the
	// cluster is still bootstrapping.
	if !p.auxInfo.HasAuxInfo(p.protocol) {
		return
	}
	hasCfg, err := p.dkgConfig.HasDKGConfig(ctx, p.protocol)
	if err != nil || !hasCfg {
		return
	}

	count, err := p.store.CountUnused(ctx, p.protocol)
	if err != nil {
		log.Warnf("refill loop: counting unused presignatures: %s", err)
		return
	}
	if count < p.cfg.MinSize {
		p.generateBatch(ctx)
	}
}

// GenerateNow triggers count presignature-generation rounds directly, bypassing both the leader
// gate and the min_size precondition check: an operator hitting POST /api/v1/presignatures/generate
// (§6) is making an explicit request this node should act on, not waiting for the next scheduled
// tick. Preconditions (aux-info, DKG config) still apply, since generateBatch's ceremony needs
// them regardless of who triggered it. Runs in the background and returns immediately; the caller
// observes progress through the normal Stats/Size surface rather than a synchronous result, since
// each round already carries its own inter-batch delay and ceremony timeout.
func (p *Pool) GenerateNow(ctx context.Context, count int) (int, error) {
	if count <= 0 {
		return 0, cerrors.InvalidConfig("count must be positive")
	}
	if !p.auxInfo.HasAuxInfo(p.protocol) {
		return 0, cerrors.New(cerrors.KindInProgress, "aux-info not yet available for "+string(p.protocol))
	}
	hasCfg, err := p.dkgConfig.HasDKGConfig(ctx, p.protocol)
	if err != nil {
		return 0, err
	}
	if !hasCfg {
		return 0, cerrors.New(cerrors.KindInProgress, "DKG config not yet available for "+string(p.protocol))
	}

	go func() {
		for i := 0; i < count; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			p.generateBatch(ctx)
		}
	}()
	return count, nil
}

// isLeader reports whether self is the active node with the smallest NodeId (§4.5).
func (p *Pool) isLeader(ctx context.Context) (bool, error) {
	active, err := p.coord.ActiveNodes(ctx)
	if err != nil {
		return false, err
	}
	if len(active) == 0 {
		return false, nil
	}
	min := active[0]
	for _, n := range active[1:] {
		if n < min {
			min = n
		}
	}
	return min == p.self, nil
}

// selectParticipants picks self plus the lowest-indexed other cluster members, up to threshold
// total (§4.5: "must include self (the leader), plus the lowest-indexed others").
func (p *Pool) selectParticipants() []types.NodeId {
	others := make([]types.NodeId, 0, len(p.allNodes))
	for _, n := range p.allNodes {
		if n != p.self {
			others = append(others, n)
		}
	}
	sort.Slice(others, func(i, j int) bool { return others[i] < others[j] })

	participants := make([]types.NodeId, 0, p.threshold)
	participants = append(participants, p.self)
	for _, n := range others {
		if len(participants) >= p.threshold {
			break
		}
		participants = append(participants, n)
	}
	return participants
}

// generateBatch runs one presignature generation round, honoring the SORUN #14 locking
// discipline: RunAsCoordinator acquires the admission lock bound to a lease and unconditionally
// releases it on every exit path (including panics recovered further up the call stack by
// util/panics), so this function does not need its own lock bookkeeping. A contended lock
// surfaces as a KindInProgress error, which is not a failure from the refill loop's perspective.
func (p *Pool) generateBatch(ctx context.Context) {
	req := ceremony.CoordinatorRequest{
		Kind:          types.CeremonyPresig,
		Protocol:      p.protocol,
		Threshold:     p.threshold,
		Participants:  p.selectParticipants(),
		LockKey:       coordstore.LockPresigGeneration,
		LockTTL:       p.cfg.LockTTL,
		EngineTimeout: p.cfg.EngineTimeout,
	}

	_, result, err := p.coordinator.RunAsCoordinator(ctx, req)
	if err != nil {
		if cerrors.IsInProgress(err) {
			return
		}
		log.Warnf("generate_batch: ceremony failed: %s", err)
		time.Sleep(p.cfg.FailureDrainDelay)
		return
	}

	entry := &types.Presignature{ID: types.NewPresigId(), MetadataBytes: result.Metadata, CreatedAt: time.Now()}
	if err := p.store.InsertPresignature(ctx, p.protocol, entry); err != nil {
		log.Warnf("generate_batch: persisting presignature: %s", err)
	}

	// §4.5: "between sequential presignatures, sleeps 2s" — batch_size is 1 today, but the sleep
	// stays outside the per-entry success/failure branches so a wider batch_size in future only
	// needs a loop around generateBatch, not a new delay.
	time.Sleep(p.cfg.InterBatchDelay)
}
