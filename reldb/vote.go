package reldb

import (
	"context"
	"strings"
	"time"

	"github.com/mpcwallet/orchestrator/types"
)

// RecordVote implements vote.Store. accepted=false (not an error) signals the (round_id, node_id)
// unique constraint rejected a second ballot from the same node on the same round — vote.Store's
// doc comment names this as the expected way contention surfaces, mirroring coordstore.Store's
// own "never error on contention" idiom.
func (s *Store) RecordVote(ctx context.Context, vote *types.Vote) (bool, error) {
	err := s.db.Create(voteModelFrom(vote)).Error
	if err == nil {
		return true, nil
	}
	if isUniqueViolation(err) {
		return false, nil
	}
	return false, err
}

// isUniqueViolation reports whether err is postgres's unique_violation (SQLSTATE 23505), the
// pq driver error jinzhu/gorm's postgres dialect surfaces unwrapped from Create.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// lib/pq formats constraint errors as `pq: duplicate key value violates unique constraint
	// "idx_votes_round_node"`; matching on the message avoids an explicit *pq.Error type
	// assertion, which would require importing lib/pq here just for its Error type.
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}

// RecordViolation implements vote.Store against the byzantine_violations table.
func (s *Store) RecordViolation(ctx context.Context, violation *types.ByzantineViolation) error {
	return s.db.Create(byzantineViolationModelFrom(violation)).Error
}

// VotesForRound implements vote.Store, used by vote.Analyzer to tally a completed round's ballots
// (§4.6's minority-vote / timeout post-hoc analysis).
func (s *Store) VotesForRound(ctx context.Context, roundID int64) ([]types.Vote, error) {
	var models []voteModel
	if err := s.db.Where("round_id = ?", roundID).Find(&models).Error; err != nil {
		return nil, err
	}
	votes := make([]types.Vote, len(models))
	for i := range models {
		votes[i] = models[i].toDomain()
	}
	return votes, nil
}

// RecordNodeStatus implements vote.StatusRecorder and health.StatusRecorder against the
// node_status table (§10.2 schema).
func (s *Store) RecordNodeStatus(ctx context.Context, nodeID types.NodeId, status string, detail string) error {
	return s.db.Create(&nodeStatusModel{
		NodeID:     uint32(nodeID),
		Status:     status,
		Detail:     detail,
		RecordedAt: time.Now(),
	}).Error
}
