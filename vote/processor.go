package vote

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/mpcwallet/orchestrator/coordstore"
	cerrors "github.com/mpcwallet/orchestrator/errors"
	"github.com/mpcwallet/orchestrator/logs"
	"github.com/mpcwallet/orchestrator/types"
)

var log, _ = logs.Get("VOTE")

// maxCASRetries bounds the optimistic-concurrency loop used to bump /vote_counts/<tx_id>/<value>
// (§4.6: "atomically increments"). A loop that never converges after this many attempts means
// the key is under heavier contention than five nodes voting once each could plausibly cause.
const maxCASRetries = 10

// Processor is the vote collector of §4.6: it validates, deduplicates, and counts votes, feeding
// accepted ones into the round the FSM poller is watching.
type Processor struct {
	store    Store
	rounds   RoundStore
	coord    *coordstore.Facade
	recorder StatusRecorder
}

func NewProcessor(store Store, rounds RoundStore, coord *coordstore.Facade) *Processor {
	return &Processor{store: store, rounds: rounds, coord: coord}
}

// SetStatusRecorder installs the optional durable node_status recorder (§10.2 schema).
func (p *Processor) SetStatusRecorder(r StatusRecorder) {
	p.recorder = r
}

// ProcessVote validates and records one incoming vote (§4.6). It:
//  1. rejects votes from banned nodes;
//  2. rejects votes whose signature does not verify, without banning (InvalidSignature is
//     evidence of a bad key or corrupt transport, not necessarily malice);
//  3. detects double-vote (a second distinct vote for the same (round_id, node_id)) and bans the
//     offending node;
//  4. on acceptance, bumps the round's vote count and the per-value coordination-store tally.
func (p *Processor) ProcessVote(ctx context.Context, vote types.Vote) error {
	banned, err := p.isBanned(ctx, vote.NodeID)
	if err != nil {
		return err
	}
	if banned {
		return cerrors.Byzantine("vote rejected: node " + vote.NodeID.String() + " is banned")
	}

	round, found, err := p.rounds.GetActiveVotingRound(ctx, vote.TxID)
	if err != nil {
		return err
	}
	if !found {
		return cerrors.NotFound("active voting round for transaction " + string(vote.TxID))
	}
	if round.ID != vote.RoundID {
		violation := p.newViolation(vote.NodeID, types.ViolationMalformedMessage, vote)
		_ = p.store.RecordViolation(ctx, violation)
		return cerrors.New(cerrors.KindProtocol, "vote round mismatch: active round is not the one voted on")
	}

	if !verifyVoteSignature(&vote) {
		violation := p.newViolation(vote.NodeID, types.ViolationInvalidSignature, vote)
		_ = p.store.RecordViolation(ctx, violation)
		return cerrors.New(cerrors.KindByzantine, "vote signature does not verify")
	}

	accepted, err := p.store.RecordVote(ctx, &vote)
	if err != nil {
		return err
	}
	if !accepted {
		violation := p.newViolation(vote.NodeID, types.ViolationDoubleVote, vote)
		if err := p.store.RecordViolation(ctx, violation); err != nil {
			log.Warnf("ProcessVote: recording double-vote violation for %s: %s", vote.NodeID, err)
		}
		if err := p.ban(ctx, vote.NodeID, violation); err != nil {
			log.Warnf("ProcessVote: banning %s: %s", vote.NodeID, err)
		}
		return cerrors.Byzantine("double vote from node " + vote.NodeID.String() + " on round " +
			strconv.FormatInt(vote.RoundID, 10))
	}

	if err := p.rounds.IncrementVoteCount(ctx, round.ID); err != nil {
		return err
	}
	if err := p.incrementVoteCount(ctx, vote.TxID, vote.Value); err != nil {
		log.Warnf("ProcessVote: incrementing coordination-store tally for tx %s value %s: %s", vote.TxID, vote.Value, err)
	}
	return nil
}

func (p *Processor) newViolation(nodeID types.NodeId, kind types.ByzantineViolationKind, vote types.Vote) *types.ByzantineViolation {
	evidence, err := json.Marshal(vote)
	if err != nil {
		evidence = nil
	}
	return &types.ByzantineViolation{
		NodeID:     nodeID,
		Kind:       kind,
		Evidence:   evidence,
		DetectedAt: time.Now(),
	}
}

func (p *Processor) isBanned(ctx context.Context, nodeID types.NodeId) (bool, error) {
	_, ok, err := p.coord.Get(ctx, coordstore.BannedKey(nodeID))
	return ok, err
}

func (p *Processor) ban(ctx context.Context, nodeID types.NodeId, violation *types.ByzantineViolation) error {
	evidence, err := json.Marshal(violation)
	if err != nil {
		evidence = []byte(string(violation.Kind))
	}
	if err := p.coord.Put(ctx, coordstore.BannedKey(nodeID), evidence); err != nil {
		return err
	}
	if p.recorder != nil {
		if err := p.recorder.RecordNodeStatus(ctx, nodeID, "banned", string(violation.Kind)); err != nil {
			log.Warnf("ProcessVote: recording durable node status for %s: %s", nodeID, err)
		}
	}
	return nil
}

// incrementVoteCount bumps /vote_counts/<tx_id>/<value> via a bounded CAS retry loop, the
// coordination-store half of the tally (the authoritative count the FSM poller reads is
// round.VotesReceived in the relational store; this one exists so health/status endpoints can
// report the per-value breakdown without a relational query, per §6's key layout).
func (p *Processor) incrementVoteCount(ctx context.Context, txID types.TxId, value types.VoteValue) error {
	key := coordstore.VoteCountKey(txID, value)
	for i := 0; i < maxCASRetries; i++ {
		current, ok, err := p.coord.Get(ctx, key)
		if err != nil {
			return err
		}
		var count int64
		if ok {
			count, err = strconv.ParseInt(string(current), 10, 64)
			if err != nil {
				count = 0
			}
		}
		next := []byte(strconv.FormatInt(count+1, 10))
		var old []byte
		if ok {
			old = current
		}
		swapped, err := p.coord.CompareAndSwap(ctx, key, old, next)
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}
	}
	return cerrors.New(cerrors.KindTransient, "exhausted CAS retries incrementing vote count")
}
