package vote

import (
	"context"
	"sync"
	"time"

	"github.com/mpcwallet/orchestrator/coordstore"
	"github.com/mpcwallet/orchestrator/types"
)

// fakeKVStore is a minimal in-memory coordstore.Store, mirroring ceremony/faketore_test.go's
// fakeStore (duplicated rather than shared, since test doubles aren't exported across packages).
type fakeKVStore struct {
	mu sync.Mutex
	kv map[string][]byte
}

func newFakeKVStore() *fakeKVStore {
	return &fakeKVStore{kv: make(map[string][]byte)}
}

func (s *fakeKVStore) TryAcquireLock(ctx context.Context, key string, ttl time.Duration) (coordstore.LeaseID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.kv[key]; exists {
		return 0, false, nil
	}
	s.kv[key] = []byte{}
	return 1, true, nil
}

func (s *fakeKVStore) RevokeLease(ctx context.Context, lease coordstore.LeaseID) error { return nil }
func (s *fakeKVStore) KeepAlive(ctx context.Context, lease coordstore.LeaseID) error   { return nil }

func (s *fakeKVStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

func (s *fakeKVStore) PutWithLease(ctx context.Context, key string, value []byte, lease coordstore.LeaseID) error {
	return s.Put(ctx, key, value)
}

func (s *fakeKVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	return v, ok, nil
}

func (s *fakeKVStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

func (s *fakeKVStore) GetPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte)
	for k, v := range s.kv {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out[k] = v
		}
	}
	return out, nil
}

func (s *fakeKVStore) CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.kv[key]
	if oldValue == nil {
		if exists {
			return false, nil
		}
	} else if !exists || string(current) != string(oldValue) {
		return false, nil
	}
	s.kv[key] = newValue
	return true, nil
}

func (s *fakeKVStore) Close() error { return nil }

// fakeVoteStore is an in-memory vote.Store + vote.RoundStore + vote.TransactionReader.
type fakeVoteStore struct {
	mu         sync.Mutex
	votes      map[int64]map[types.NodeId]types.Vote // roundID -> nodeID -> vote
	violations []types.ByzantineViolation
	rounds     map[int64]*types.VotingRound
	active     map[types.TxId]int64
	txs        map[types.TxId]*types.Transaction
}

func newFakeVoteStore() *fakeVoteStore {
	return &fakeVoteStore{
		votes:  make(map[int64]map[types.NodeId]types.Vote),
		rounds: make(map[int64]*types.VotingRound),
		active: make(map[types.TxId]int64),
		txs:    make(map[types.TxId]*types.Transaction),
	}
}

func (s *fakeVoteStore) putRound(round *types.VotingRound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *round
	s.rounds[round.ID] = &cp
	s.active[round.TxID] = round.ID
}

func (s *fakeVoteStore) putTx(tx *types.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tx
	s.txs[tx.ID] = &cp
}

func (s *fakeVoteStore) GetTransaction(ctx context.Context, txID types.TxId) (*types.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[txID]
	if !ok {
		return nil, false, nil
	}
	cp := *tx
	return &cp, true, nil
}

func (s *fakeVoteStore) GetActiveVotingRound(ctx context.Context, txID types.TxId) (*types.VotingRound, bool, error) {
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

func (s *fakeVoteStore) IncrementVoteCount(ctx context.Context, roundID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	round, ok := s.rounds[roundID]
	if !ok {
		return nil
	}
	round.VotesReceived++
	return nil
}

func (s *fakeVoteStore) RecordVote(ctx context.Context, vote *types.Vote) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byNode, ok := s.votes[vote.RoundID]
	if !ok {
		byNode = make(map[types.NodeId]types.Vote)
		s.votes[vote.RoundID] = byNode
	}
	if _, exists := byNode[vote.NodeID]; exists {
		return false, nil
	}
	byNode[vote.NodeID] = *vote
	return true, nil
}

func (s *fakeVoteStore) VotesForRound(ctx context.Context, roundID int64) ([]types.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Vote
	for _, v := range s.votes[roundID] {
		out = append(out, v)
	}
	return out, nil
}

func (s *fakeVoteStore) RecordViolation(ctx context.Context, violation *types.ByzantineViolation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations = append(s.violations, *violation)
	return nil
}

func (s *fakeVoteStore) violationsFor(nodeID types.NodeId, kind types.ByzantineViolationKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, v := range s.violations {
		if v.NodeID == nodeID && v.Kind == kind {
			count++
		}
	}
	return count
}

// fakeDirectory is a vote.Directory stub.
type fakeDirectory struct {
	endpoints map[types.NodeId]string
}

func (d *fakeDirectory) BaseURL(node types.NodeId) (string, bool) {
	url, ok := d.endpoints[node]
	return url, ok
}

func (d *fakeDirectory) Peers() []types.NodeId {
	out := make([]types.NodeId, 0, len(d.endpoints))
	for id := range d.endpoints {
		out = append(out, id)
	}
	return out
}

// fakeEvaluator always casts the same vote, regardless of transaction content.
type fakeEvaluator struct {
	approve bool
	value   types.VoteValue
}

func (e *fakeEvaluator) Evaluate(ctx context.Context, tx types.Transaction) (bool, types.VoteValue) {
	return e.approve, e.value
}
