package fsm

import (
	"context"
	"time"

	"github.com/mpcwallet/orchestrator/logs"
	"github.com/mpcwallet/orchestrator/types"
)

var log, _ = logs.Get("FSM ")

// Poller is the lifecycle poller of §4.4: one cooperative tick per node, running each phase
// worker in sequence. A failure in one phase never stops the later phases in the same tick
// (§4.4 polling discipline); every phase worker is idempotent on its own inputs, so a redundant
// invocation across ticks — or a concurrent one from the TimeoutMonitor — is always safe.
type Poller struct {
	self       types.NodeId
	store      Store
	votes      VotingStore
	trigger    VoteTrigger
	signer     SigningCoordinator
	btc        BitcoinClient
	threshold  int
	totalNodes int
	cfg        Config
	analyzer   RoundAnalyzer
}

func NewPoller(self types.NodeId, threshold, totalNodes int, store Store, votes VotingStore, trigger VoteTrigger, signer SigningCoordinator, btc BitcoinClient, cfg Config) *Poller {
	return &Poller{self: self, store: store, votes: votes, trigger: trigger, signer: signer, btc: btc, threshold: threshold, totalNodes: totalNodes, cfg: cfg}
}

// SetAnalyzer attaches an optional RoundAnalyzer, run against every round this poller completes
// (approved or failed). Not a constructor argument since vote.Analyzer and this Poller are wired
// together by the composition root after both already exist.
func (p *Poller) SetAnalyzer(a RoundAnalyzer) {
	p.analyzer = a
}

// Run ticks the poller every cfg.PollInterval until ctx is cancelled (§4.4: "one cooperative
// poller per node running at poll_interval").
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs every phase worker once, in the fixed order named by §4.4. Exported so tests and a
// manual-advance debug endpoint can drive it without waiting on the ticker.
func (p *Poller) Tick(ctx context.Context) {
	p.processPending(ctx)
	p.processVoting(ctx)
	p.processApproved(ctx)
	p.processSigned(ctx)
	p.processBroadcasting(ctx)
	p.garbageCollect(ctx)
}

// processPending implements Pending → Voting (§4.4): create the voting round, transition, and
// hand the round to the VoteTrigger side channel, which solicits the votes.
func (p *Poller) processPending(ctx context.Context) {
	txs, err := p.store.GetTransactionsByState(ctx, types.StatePending)
	if err != nil {
		log.Warnf("processPending: listing pending transactions: %s", err)
		return
	}
	for _, tx := range txs {
		round := &types.VotingRound{
			TxID:        tx.ID,
			RoundNumber: 1,
			TotalNodes:  p.totalNodes,
			Threshold:   p.threshold,
			StartedAt:   time.Now(),
			TimeoutAt:   time.Now().Add(p.cfg.VotingTimeout),
		}
		if err := round.Valid(); err != nil {
			log.Warnf("processPending: tx %s: refusing to create invalid voting round: %s", tx.ID, err)
			continue
		}
		if err := p.votes.CreateVotingRound(ctx, round); err != nil {
			log.Warnf("processPending: tx %s: creating voting round: %s", tx.ID, err)
			continue
		}
		if err := p.store.UpdateTransactionState(ctx, tx.ID, types.StateVoting); err != nil {
			log.Warnf("processPending: tx %s: transitioning to voting: %s", tx.ID, err)
			continue
		}
		p.trigger.Trigger(ctx, tx.ID, round.RoundNumber)
	}
}

// processVoting implements Voting → Approved | Failed (§4.4).
func (p *Poller) processVoting(ctx context.Context) {
	txs, err := p.store.GetTransactionsByState(ctx, types.StateVoting)
	if err != nil {
		log.Warnf("processVoting: listing voting transactions: %s", err)
		return
	}
	for _, tx := range txs {
		round, found, err := p.votes.GetActiveVotingRound(ctx, tx.ID)
		if err != nil {
			log.Warnf("processVoting: tx %s: reading active round: %s", tx.ID, err)
			continue
		}
		if !found {
			continue
		}

		if round.VotesReceived >= round.Threshold {
			if err := p.votes.CompleteVotingRound(ctx, round.ID, true); err != nil {
				log.Warnf("processVoting: tx %s: completing approved round: %s", tx.ID, err)
				continue
			}
			if err := p.store.UpdateTransactionState(ctx, tx.ID, types.StateApproved); err != nil {
				log.Warnf("processVoting: tx %s: transitioning to approved: %s", tx.ID, err)
			}
			p.analyzeRound(ctx, round)
			continue
		}

		if time.Now().After(round.TimeoutAt) {
			if err := p.votes.CompleteVotingRound(ctx, round.ID, false); err != nil {
				log.Warnf("processVoting: tx %s: completing timed-out round: %s", tx.ID, err)
				continue
			}
			if err := p.store.UpdateTransactionState(ctx, tx.ID, types.StateFailed); err != nil {
				log.Warnf("processVoting: tx %s: transitioning to failed: %s", tx.ID, err)
				continue
			}
			_ = p.store.RecordAuditEvent(ctx, tx.ID, "voting_timeout", "")
			p.analyzeRound(ctx, round)
		}
	}
}

// analyzeRound runs the optional RoundAnalyzer against a just-completed round, best-effort.
func (p *Poller) analyzeRound(ctx context.Context, round *types.VotingRound) {
	if p.analyzer == nil {
		return
	}
	if err := p.analyzer.AnalyzeRound(ctx, round); err != nil {
		log.Warnf("analyzeRound: tx %s round %d: %s", round.TxID, round.ID, err)
	}
}

// processApproved implements Approved → Signing → Signed (§4.4): both sub-transitions happen
// within the same tick, since producing signed bytes is not itself multi-round from the FSM's
// point of view (the signing ceremony's own multi-round nature is hidden behind
// SigningCoordinator.Sign).
func (p *Poller) processApproved(ctx context.Context) {
	txs, err := p.store.GetTransactionsByState(ctx, types.StateApproved)
	if err != nil {
		log.Warnf("processApproved: listing approved transactions: %s", err)
		return
	}
	for _, tx := range txs {
		if err := p.store.UpdateTransactionState(ctx, tx.ID, types.StateSigning); err != nil {
			log.Warnf("processApproved: tx %s: transitioning to signing: %s", tx.ID, err)
			continue
		}

		signedBytes, err := p.signer.Sign(ctx, tx)
		if err != nil {
			log.Warnf("processApproved: tx %s: signing failed: %s", tx.ID, err)
			if failErr := p.store.UpdateTransactionState(ctx, tx.ID, types.StateFailed); failErr != nil {
				log.Warnf("processApproved: tx %s: transitioning to failed after sign error: %s", tx.ID, failErr)
			}
			_ = p.store.RecordAuditEvent(ctx, tx.ID, "signing_failed", err.Error())
			continue
		}

		if err := p.store.SetSignedTransaction(ctx, tx.ID, signedBytes); err != nil {
			log.Warnf("processApproved: tx %s: persisting signed bytes: %s", tx.ID, err)
			continue
		}
		if err := p.store.UpdateTransactionState(ctx, tx.ID, types.StateSigned); err != nil {
			log.Warnf("processApproved: tx %s: transitioning to signed: %s", tx.ID, err)
		}
	}
}

// processSigned implements Signed → Broadcasting (§4.4).
func (p *Poller) processSigned(ctx context.Context) {
	txs, err := p.store.GetTransactionsByState(ctx, types.StateSigned)
	if err != nil {
		log.Warnf("processSigned: listing signed transactions: %s", err)
		return
	}
	for _, tx := range txs {
		txid, err := p.btc.Broadcast(ctx, tx.SignedBytes)
		if err != nil {
			log.Warnf("processSigned: tx %s: broadcast failed, will retry next tick: %s", tx.ID, err)
			continue
		}
		if err := p.store.SetBroadcastTxid(ctx, tx.ID, txid); err != nil {
			log.Warnf("processSigned: tx %s: persisting broadcast txid: %s", tx.ID, err)
			continue
		}
		if err := p.store.UpdateTransactionState(ctx, tx.ID, types.StateBroadcasting); err != nil {
			log.Warnf("processSigned: tx %s: transitioning to broadcasting: %s", tx.ID, err)
		}
	}
}

// processBroadcasting implements Broadcasting → Confirmed (§4.4).
func (p *Poller) processBroadcasting(ctx context.Context) {
	txs, err := p.store.GetTransactionsByState(ctx, types.StateBroadcasting)
	if err != nil {
		log.Warnf("processBroadcasting: listing broadcasting transactions: %s", err)
		return
	}
	for _, tx := range txs {
		confirmations, err := p.btc.Confirmations(ctx, tx.Txid)
		if err != nil {
			log.Warnf("processBroadcasting: tx %s: checking confirmations: %s", tx.ID, err)
			continue
		}
		if err := p.store.SetConfirmations(ctx, tx.ID, confirmations); err != nil {
			log.Warnf("processBroadcasting: tx %s: persisting confirmations: %s", tx.ID, err)
			continue
		}
		if confirmations >= p.cfg.RequiredConfirmations {
			if err := p.store.UpdateTransactionState(ctx, tx.ID, types.StateConfirmed); err != nil {
				log.Warnf("processBroadcasting: tx %s: transitioning to confirmed: %s", tx.ID, err)
			}
		}
	}
}

// garbageCollect is the in-poll catch-all named by §4.4: any transaction in voting, signing, or
// broadcasting whose UpdatedAt is older than cfg.GCAge is forced to Failed, independent of and
// redundant with the per-phase budgets the TimeoutMonitor enforces more precisely.
func (p *Poller) garbageCollect(ctx context.Context) {
	for _, state := range []types.TransactionState{types.StateVoting, types.StateSigning, types.StateBroadcasting} {
		txs, err := p.store.GetTransactionsByState(ctx, state)
		if err != nil {
			log.Warnf("garbageCollect: listing %s transactions: %s", state, err)
			continue
		}
		for _, tx := range txs {
			if time.Since(tx.UpdatedAt) < p.cfg.GCAge {
				continue
			}
			if err := p.store.UpdateTransactionState(ctx, tx.ID, types.StateFailed); err != nil {
				log.Warnf("garbageCollect: tx %s: force-failing stale %s transaction: %s", tx.ID, state, err)
				continue
			}
			_ = p.store.RecordAuditEvent(ctx, tx.ID, "timeout", "garbage collected from "+string(state))
		}
	}
}
