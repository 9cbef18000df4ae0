package reldb

import (
	"context"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/mpcwallet/orchestrator/types"
)

// CreateVotingRound implements fsm.VotingStore. On success it writes back the row's generated ID
// into round.ID, the same "populate the struct the caller already holds" convention gorm.Create
// gives for free via AutoIncrement primary keys.
func (s *Store) CreateVotingRound(ctx context.Context, round *types.VotingRound) error {
	model := &votingRoundModel{
		TxID:          string(round.TxID),
		RoundNumber:   round.RoundNumber,
		TotalNodes:    round.TotalNodes,
		Threshold:     round.Threshold,
		VotesReceived: round.VotesReceived,
		Approved:      round.Approved,
		Completed:     round.Completed,
		StartedAt:     round.StartedAt,
		CompletedAt:   round.CompletedAt,
		TimeoutAt:     round.TimeoutAt,
	}
	if err := s.db.Create(model).Error; err != nil {
		return err
	}
	round.ID = model.ID
	return nil
}

// GetActiveVotingRound implements fsm.VotingStore and vote.RoundStore (deliberately identical
// signatures so this one method satisfies both, per the RoundStore doc comment in vote/store.go).
// "Active" means not yet completed — exactly one such row exists per transaction (§3 invariant).
func (s *Store) GetActiveVotingRound(ctx context.Context, txID types.TxId) (*types.VotingRound, bool, error) {
	var model votingRoundModel
	result := s.db.Where("tx_id = ? AND completed = ?", string(txID), false).
		Order("round_number DESC").First(&model)
	if isNotFound(result) {
		return nil, false, nil
	}
	if err := dbErr(result); err != nil {
		return nil, false, err
	}
	return model.toDomain(), true, nil
}

// CompleteVotingRound implements fsm.VotingStore.
func (s *Store) CompleteVotingRound(ctx context.Context, roundID int64, approved bool) error {
	now := time.Now()
	return s.db.Model(&votingRoundModel{}).Where("id = ?", roundID).
		Updates(map[string]interface{}{"completed": true, "approved": approved, "completed_at": &now}).Error
}

// IncrementVoteCount implements fsm.VotingStore and vote.RoundStore via a single atomic UPDATE,
// avoiding the read-modify-write race a Go-side increment would have under concurrent voters.
func (s *Store) IncrementVoteCount(ctx context.Context, roundID int64) error {
	return s.db.Model(&votingRoundModel{}).Where("id = ?", roundID).
		UpdateColumn("votes_received", gorm.Expr("votes_received + 1")).Error
}
