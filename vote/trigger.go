package vote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/mpcwallet/orchestrator/types"
)

// Evaluator decides how this node votes on a transaction. Out of scope for this package (§1
// Non-goals: transaction policy/validation rules); a real deployment supplies its own.
type Evaluator interface {
	Evaluate(ctx context.Context, tx types.Transaction) (approve bool, value types.VoteValue)
}

// Directory is the static node-to-base-URL table the trigger uses to reach peers' internal
// vote-request endpoints. Named Directory rather than PeerRegistry to avoid confusion with
// router.PeerRegistry, which maps to live ceremony-transport connections, not HTTP addresses.
type Directory interface {
	BaseURL(node types.NodeId) (string, bool)
	Peers() []types.NodeId
}

// Request is the body of the internal vote-request solicitation (§4.4: "voting solicitations are
// delivered via the vote-trigger channel / HTTP vote-request endpoint").
type Request struct {
	TxID        types.TxId `json:"tx_id"`
	RoundNumber int        `json:"round_number"`
}

// HTTPTrigger implements fsm.VoteTrigger: it casts this node's own vote locally, then prompts
// every other node to do the same over HTTP. Votes themselves never cross the wire in the
// request — the shared relational store is the only thing that needs to agree, so the request
// just tells a peer which transaction to evaluate.
type HTTPTrigger struct {
	self      types.NodeId
	txs       TransactionReader
	processor *Processor
	evaluator Evaluator
	priv      *btcec.PrivateKey
	peers     Directory
	client    *http.Client
}

func NewHTTPTrigger(self types.NodeId, txs TransactionReader, processor *Processor, evaluator Evaluator, priv *btcec.PrivateKey, peers Directory, client *http.Client) *HTTPTrigger {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPTrigger{self: self, txs: txs, processor: processor, evaluator: evaluator, priv: priv, peers: peers, client: client}
}

// Trigger satisfies fsm.VoteTrigger. It runs asynchronously: the poller must not block waiting
// on every peer's HTTP round trip before moving on to the rest of its tick.
func (t *HTTPTrigger) Trigger(ctx context.Context, txID types.TxId, roundNumber int) {
	go func() {
		if err := t.CastVote(context.Background(), txID, roundNumber); err != nil {
			log.Warnf("Trigger: casting own vote for tx %s: %s", txID, err)
		}
		t.solicitPeers(context.Background(), txID, roundNumber)
	}()
}

// CastVote evaluates tx and submits this node's own vote to the local processor. It is also
// what the internal /internal/vote-request HTTP handler calls when a peer solicits this node.
func (t *HTTPTrigger) CastVote(ctx context.Context, txID types.TxId, roundNumber int) error {
	tx, found, err := t.txs.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("vote: unknown transaction %s", txID)
	}

	round, found, err := t.processor.rounds.GetActiveVotingRound(ctx, txID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("vote: no active voting round for transaction %s", txID)
	}

	approve, value := t.evaluator.Evaluate(ctx, *tx)
	ballot := types.Vote{
		TxID:      txID,
		NodeID:    t.self,
		RoundID:   round.ID,
		Approve:   approve,
		Value:     value,
		Timestamp: time.Now(),
	}
	if err := signVote(t.priv, &ballot); err != nil {
		return err
	}
	return t.processor.ProcessVote(ctx, ballot)
}

func (t *HTTPTrigger) solicitPeers(ctx context.Context, txID types.TxId, roundNumber int) {
	body, err := json.Marshal(Request{TxID: txID, RoundNumber: roundNumber})
	if err != nil {
		log.Warnf("solicitPeers: marshaling vote-request for tx %s: %s", txID, err)
		return
	}
	for _, peer := range t.peers.Peers() {
		if peer == t.self {
			continue
		}
		base, ok := t.peers.BaseURL(peer)
		if !ok {
			continue
		}
		go func(base string) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/internal/vote-request", bytes.NewReader(body))
			if err != nil {
				return
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := t.client.Do(req)
			if err != nil {
				log.Warnf("solicitPeers: prompting %s for tx %s: %s", base, txID, err)
				return
			}
			resp.Body.Close()
		}(base)
	}
}
