package vote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mpcwallet/orchestrator/coordstore"
	"github.com/mpcwallet/orchestrator/types"
)

// Analyzer implements fsm.RoundAnalyzer: after a voting round completes, it looks for the two
// violation kinds that only make sense in hindsight, once every vote is in (§4.6):
//   - MinorityVote: a node signed a value different from the one the round settled on, a sign
//     of a stale or forked view of the transaction rather than honest disagreement on approval.
//   - Timeout: an active node that never voted at all before the round closed.
//
// Neither is banned outright the way DoubleVote is (§4.6 only specifies banning for that one);
// both are recorded as evidence for operators and any future reputation system to consume.
type Analyzer struct {
	store Store
	coord *coordstore.Facade
}

func NewAnalyzer(store Store, coord *coordstore.Facade) *Analyzer {
	return &Analyzer{store: store, coord: coord}
}

func (a *Analyzer) AnalyzeRound(ctx context.Context, round *types.VotingRound) error {
	votes, err := a.store.VotesForRound(ctx, round.ID)
	if err != nil {
		return err
	}

	tally := make(map[types.VoteValue]int, len(votes))
	voted := make(map[types.NodeId]bool, len(votes))
	for _, v := range votes {
		tally[v.Value]++
		voted[v.NodeID] = true
	}
	majority := majorityValue(tally)

	for _, v := range votes {
		if v.Value != majority {
			a.record(ctx, v.NodeID, types.ViolationMinorityVote, v)
		}
	}

	active, err := a.coord.ActiveNodes(ctx)
	if err != nil {
		return err
	}
	for _, node := range active {
		if !voted[node] {
			a.record(ctx, node, types.ViolationTimeout, round)
		}
	}
	return nil
}

func majorityValue(tally map[types.VoteValue]int) types.VoteValue {
	var best types.VoteValue
	bestCount := -1
	for value, count := range tally {
		if count > bestCount {
			best, bestCount = value, count
		}
	}
	return best
}

func (a *Analyzer) record(ctx context.Context, nodeID types.NodeId, kind types.ByzantineViolationKind, evidenceSrc interface{}) {
	evidence, err := json.Marshal(evidenceSrc)
	if err != nil {
		evidence = nil
	}
	violation := &types.ByzantineViolation{
		NodeID:     nodeID,
		Kind:       kind,
		Evidence:   evidence,
		DetectedAt: time.Now(),
	}
	if err := a.store.RecordViolation(ctx, violation); err != nil {
		log.Warnf("AnalyzeRound: recording %s violation for %s: %s", kind, nodeID, err)
	}
}
