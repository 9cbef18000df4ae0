package vote

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/mpcwallet/orchestrator/coordstore"
	cerrors "github.com/mpcwallet/orchestrator/errors"
	"github.com/mpcwallet/orchestrator/types"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(t *testing.T) (*Processor, *fakeVoteStore, *coordstore.Facade) {
	t.Helper()
	store := newFakeVoteStore()
	facade := coordstore.NewFacade(newFakeKVStore())
	return NewProcessor(store, store, facade), store, facade
}

func signedVote(t *testing.T, priv *btcec.PrivateKey, txID types.TxId, nodeID types.NodeId, roundID int64, approve bool, value types.VoteValue) types.Vote {
	t.Helper()
	v := types.Vote{TxID: txID, NodeID: nodeID, RoundID: roundID, Approve: approve, Value: value, Timestamp: time.Now()}
	require.NoError(t, signVote(priv, &v))
	return v
}

func TestProcessVoteAcceptsValidVoteAndIncrementsCounts(t *testing.T) {
	proc, store, facade := newTestProcessor(t)
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	round := &types.VotingRound{ID: 1, TxID: "tx-1", RoundNumber: 1, Threshold: 4, TotalNodes: 5, TimeoutAt: time.Now().Add(time.Minute)}
	store.putRound(round)

	v := signedVote(t, priv, "tx-1", 2, 1, true, "hash-a")
	require.NoError(t, proc.ProcessVote(context.Background(), v))

	updated, found, err := store.GetActiveVotingRound(context.Background(), "tx-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, updated.VotesReceived)

	raw, ok, err := facade.Get(context.Background(), coordstore.VoteCountKey("tx-1", "hash-a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", string(raw))
}

func TestProcessVoteRejectsBannedNode(t *testing.T) {
	proc, store, facade := newTestProcessor(t)
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	store.putRound(&types.VotingRound{ID: 1, TxID: "tx-1", Threshold: 4, TimeoutAt: time.Now().Add(time.Minute)})
	require.NoError(t, facade.Put(context.Background(), coordstore.BannedKey(2), []byte("evidence")))

	v := signedVote(t, priv, "tx-1", 2, 1, true, "hash-a")
	err = proc.ProcessVote(context.Background(), v)
	require.Error(t, err)
	require.Equal(t, cerrors.KindByzantine, cerrors.KindOf(err))
}

func TestProcessVoteRejectsBadSignature(t *testing.T) {
	proc, store, _ := newTestProcessor(t)
	store.putRound(&types.VotingRound{ID: 1, TxID: "tx-1", Threshold: 4, TimeoutAt: time.Now().Add(time.Minute)})

	v := types.Vote{TxID: "tx-1", NodeID: 2, RoundID: 1, Approve: true, Value: "hash-a", Signature: []byte("garbage"), PublicKey: []byte("garbage")}
	err := proc.ProcessVote(context.Background(), v)
	require.Error(t, err)
	require.Equal(t, 1, store.violationsFor(2, types.ViolationInvalidSignature))
}

func TestProcessVoteDetectsDoubleVoteAndBans(t *testing.T) {
	proc, store, facade := newTestProcessor(t)
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	store.putRound(&types.VotingRound{ID: 1, TxID: "tx-1", Threshold: 4, TimeoutAt: time.Now().Add(time.Minute)})

	first := signedVote(t, priv, "tx-1", 2, 1, true, "hash-a")
	require.NoError(t, proc.ProcessVote(context.Background(), first))

	second := signedVote(t, priv, "tx-1", 2, 1, false, "hash-b")
	err = proc.ProcessVote(context.Background(), second)
	require.Error(t, err)
	require.Equal(t, cerrors.KindByzantine, cerrors.KindOf(err))
	require.Equal(t, 1, store.violationsFor(2, types.ViolationDoubleVote))

	_, banned, err := facade.Get(context.Background(), coordstore.BannedKey(2))
	require.NoError(t, err)
	require.True(t, banned)
}

func TestProcessVoteRejectsRoundMismatch(t *testing.T) {
	proc, store, _ := newTestProcessor(t)
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	store.putRound(&types.VotingRound{ID: 1, TxID: "tx-1", Threshold: 4, TimeoutAt: time.Now().Add(time.Minute)})

	v := signedVote(t, priv, "tx-1", 2, 99, true, "hash-a")
	err = proc.ProcessVote(context.Background(), v)
	require.Error(t, err)
	require.Equal(t, 1, store.violationsFor(2, types.ViolationMalformedMessage))
}

func TestProcessVoteRejectsUnknownTransaction(t *testing.T) {
	proc, _, _ := newTestProcessor(t)
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	v := signedVote(t, priv, "tx-missing", 2, 1, true, "hash-a")
	err = proc.ProcessVote(context.Background(), v)
	require.Error(t, err)
	require.Equal(t, cerrors.KindNotFound, cerrors.KindOf(err))
}
