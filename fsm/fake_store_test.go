package fsm

import (
	"context"
	"sync"
	"time"

	"github.com/mpcwallet/orchestrator/types"
)

// fakeStore is an in-memory Store + VotingStore used by this package's tests, mirroring the
// fakeCeremonyStore pattern in ceremony/coordinator_test.go.
type fakeStore struct {
	mu     sync.Mutex
	txs    map[types.TxId]*types.Transaction
	rounds map[int64]*types.VotingRound
	active map[types.TxId]int64 // TxId -> round ID
	nextID int64
	audit  []auditEntry
}

type auditEntry struct {
	txID  types.TxId
	event string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		txs:    make(map[types.TxId]*types.Transaction),
		rounds: make(map[int64]*types.VotingRound),
		active: make(map[types.TxId]int64),
	}
}

func (s *fakeStore) put(tx *types.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tx
	s.txs[tx.ID] = &cp
}

func (s *fakeStore) GetTransaction(ctx context.Context, txID types.TxId) (*types.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[txID]
	if !ok {
		return nil, false, nil
	}
	cp := *tx
	return &cp, true, nil
}

func (s *fakeStore) GetTransactionsByState(ctx context.Context, state types.TransactionState) ([]types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Transaction
	for _, tx := range s.txs {
		if tx.State == state {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateTransactionState(ctx context.Context, txID types.TxId, newState types.TransactionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[txID]
	if !ok {
		return nil
	}
	tx.State = newState
	tx.UpdatedAt = time.Now()
	return nil
}

func (s *fakeStore) SetSignedTransaction(ctx context.Context, txID types.TxId, signedBytes []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[txID]
	if !ok {
		return nil
	}
	tx.SignedBytes = signedBytes
	tx.UpdatedAt = time.Now()
	return nil
}

func (s *fakeStore) SetBroadcastTxid(ctx context.Context, txID types.TxId, txid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[txID]
	if !ok {
		return nil
	}
	tx.Txid = txid
	tx.UpdatedAt = time.Now()
	return nil
}

func (s *fakeStore) SetConfirmations(ctx context.Context, txID types.TxId, confirmations int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[txID]
	if !ok {
		return nil
	}
	tx.Confirmations = confirmations
	tx.UpdatedAt = time.Now()
	return nil
}

func (s *fakeStore) RecordAuditEvent(ctx context.Context, txID types.TxId, event string, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, auditEntry{txID: txID, event: event})
	return nil
}

func (s *fakeStore) auditEvents(txID types.TxId) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.audit {
		if e.txID == txID {
			out = append(out, e.event)
		}
	}
	return out
}

func (s *fakeStore) CreateVotingRound(ctx context.Context, round *types.VotingRound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	round.ID = s.nextID
	cp := *round
	s.rounds[round.ID] = &cp
	s.active[round.TxID] = round.ID
	return nil
}

func (s *fakeStore) GetActiveVotingRound(ctx context.Context, txID types.TxId) (*types.VotingRound, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.active[txID]
	if !ok {
		return nil, false, nil
	}
	round, ok := s.rounds[id]
	if !ok {
		return nil, false, nil
	}
	cp := *round
	return &cp, true, nil
}

func (s *fakeStore) CompleteVotingRound(ctx context.Context, roundID int64, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	round, ok := s.rounds[roundID]
	if !ok {
		return nil
	}
	round.Completed = true
	round.Approved = approved
	now := time.Now()
	round.CompletedAt = &now
	delete(s.active, round.TxID)
	return nil
}

func (s *fakeStore) IncrementVoteCount(ctx context.Context, roundID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	round, ok := s.rounds[roundID]
	if !ok {
		return nil
	}
	round.VotesReceived++
	return nil
}

// setVotes lets a test simulate incoming votes without a real vote.Processor.
func (s *fakeStore) setVotes(txID types.TxId, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.active[txID]
	if !ok {
		return
	}
	s.rounds[id].VotesReceived = count
}

// fakeSigner is a SigningCoordinator stub.
type fakeSigner struct {
	mu      sync.Mutex
	calls   int
	failFor map[types.TxId]bool
}

func newFakeSigner() *fakeSigner { return &fakeSigner{failFor: make(map[types.TxId]bool)} }

func (f *fakeSigner) Sign(ctx context.Context, tx types.Transaction) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFor[tx.ID] {
		return nil, errSignFailed
	}
	return []byte("signed:" + string(tx.ID)), nil
}

type signError struct{}

func (signError) Error() string { return "signing failed" }

var errSignFailed = signError{}

// fakeBitcoinClient is a BitcoinClient stub.
type fakeBitcoinClient struct {
	mu            sync.Mutex
	confirmations map[string]int64
	broadcastFail bool
}

func newFakeBitcoinClient() *fakeBitcoinClient {
	return &fakeBitcoinClient{confirmations: make(map[string]int64)}
}

func (f *fakeBitcoinClient) Broadcast(ctx context.Context, signedBytes []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broadcastFail {
		return "", errBroadcastFailed
	}
	return "txid:" + string(signedBytes), nil
}

func (f *fakeBitcoinClient) Confirmations(ctx context.Context, txid string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirmations[txid], nil
}

type broadcastError struct{}

func (broadcastError) Error() string { return "broadcast failed" }

var errBroadcastFailed = broadcastError{}

// fakeVoteTrigger just records which (txID, round) pairs were solicited.
type fakeVoteTrigger struct {
	mu        sync.Mutex
	triggered []types.TxId
}

func newFakeVoteTrigger() *fakeVoteTrigger { return &fakeVoteTrigger{} }

func (f *fakeVoteTrigger) Trigger(ctx context.Context, txID types.TxId, roundNumber int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, txID)
}
