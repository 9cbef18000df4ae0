package vote

import (
	"context"
	"testing"

	"github.com/mpcwallet/orchestrator/coordstore"
	"github.com/mpcwallet/orchestrator/types"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeRoundRecordsMinorityVote(t *testing.T) {
	store := newFakeVoteStore()
	facade := coordstore.NewFacade(newFakeKVStore())
	analyzer := NewAnalyzer(store, facade)

	round := &types.VotingRound{ID: 1, TxID: "tx-1"}
	store.votes[1] = map[types.NodeId]types.Vote{
		1: {NodeID: 1, RoundID: 1, Value: "hash-a"},
		2: {NodeID: 2, RoundID: 1, Value: "hash-a"},
		3: {NodeID: 3, RoundID: 1, Value: "hash-a"},
		4: {NodeID: 4, RoundID: 1, Value: "hash-b"},
	}

	require.NoError(t, analyzer.AnalyzeRound(context.Background(), round))
	require.Equal(t, 1, store.violationsFor(4, types.ViolationMinorityVote))
	require.Equal(t, 0, store.violationsFor(1, types.ViolationMinorityVote))
}

func TestAnalyzeRoundRecordsTimeoutForSilentActiveNode(t *testing.T) {
	store := newFakeVoteStore()
	facade := coordstore.NewFacade(newFakeKVStore())
	analyzer := NewAnalyzer(store, facade)

	require.NoError(t, facade.SetHeartbeat(context.Background(), 1))
	require.NoError(t, facade.SetHeartbeat(context.Background(), 2))

	round := &types.VotingRound{ID: 5, TxID: "tx-1"}
	store.votes[5] = map[types.NodeId]types.Vote{
		1: {NodeID: 1, RoundID: 5, Value: "hash-a"},
	}

	require.NoError(t, analyzer.AnalyzeRound(context.Background(), round))
	require.Equal(t, 1, store.violationsFor(2, types.ViolationTimeout))
	require.Equal(t, 0, store.violationsFor(1, types.ViolationTimeout))
}

func TestAnalyzeRoundNoViolationsWhenAllAgreeAndVote(t *testing.T) {
	store := newFakeVoteStore()
	facade := coordstore.NewFacade(newFakeKVStore())
	analyzer := NewAnalyzer(store, facade)

	require.NoError(t, facade.SetHeartbeat(context.Background(), 1))
	require.NoError(t, facade.SetHeartbeat(context.Background(), 2))

	round := &types.VotingRound{ID: 9, TxID: "tx-1"}
	store.votes[9] = map[types.NodeId]types.Vote{
		1: {NodeID: 1, RoundID: 9, Value: "hash-a"},
		2: {NodeID: 2, RoundID: 9, Value: "hash-a"},
	}

	require.NoError(t, analyzer.AnalyzeRound(context.Background(), round))
	require.Empty(t, store.violations)
}
