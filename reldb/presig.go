package reldb

import (
	"context"
	"time"

	"github.com/mpcwallet/orchestrator/presig"
	"github.com/mpcwallet/orchestrator/types"
)

// InsertPresignature implements presig.Store, called once per completed presignature ceremony
// (§4.5's generate_batch, one row per unit of precomputed signing material).
func (s *Store) InsertPresignature(ctx context.Context, protocol types.Protocol, entry *types.Presignature) error {
	return s.db.Create(&presignatureModel{
		ID:        entry.ID.String(),
		Protocol:  string(protocol),
		Metadata:  entry.MetadataBytes,
		Used:      entry.Used,
		CreatedAt: entry.CreatedAt,
	}).Error
}

// CountUnused implements presig.Store, the figure the refill loop's min_size check and the
// Healthy/Critical predicates (§4.5) both compare against.
func (s *Store) CountUnused(ctx context.Context, protocol types.Protocol) (int, error) {
	var count int
	err := s.db.Model(&presignatureModel{}).
		Where("protocol = ? AND used = ?", string(protocol), false).Count(&count).Error
	return count, err
}

// AcquireUnused implements presig.Store's "acquire_presignature" (§4.5): atomically claims the
// oldest unused entry and records its consumption into presignature_usage, so Stats' hourly_usage
// figure never needs to scan the (much larger, append-only) presignatures table itself.
func (s *Store) AcquireUnused(ctx context.Context, protocol types.Protocol) (*types.Presignature, bool, error) {
	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, false, tx.Error
	}

	var model presignatureModel
	result := tx.Set("gorm:query_option", "FOR UPDATE SKIP LOCKED").
		Where("protocol = ? AND used = ?", string(protocol), false).
		Order("created_at ASC").First(&model)
	if isNotFound(result) {
		tx.Rollback()
		return nil, false, nil
	}
	if err := dbErr(result); err != nil {
		tx.Rollback()
		return nil, false, err
	}

	now := time.Now()
	if err := tx.Model(&model).Updates(map[string]interface{}{"used": true, "used_at": &now}).Error; err != nil {
		tx.Rollback()
		return nil, false, err
	}
	if err := tx.Create(&presignatureUsageModel{
		PresignatureID: model.ID,
		Protocol:       string(protocol),
		UsedAt:         now,
	}).Error; err != nil {
		tx.Rollback()
		return nil, false, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, false, err
	}

	domain, err := model.toDomain()
	if err != nil {
		return nil, false, err
	}
	domain.Used = true
	return domain, true, nil
}

// EvictExpired implements presig.Store, backing the 24h unused-eviction sweep (§4.5).
func (s *Store) EvictExpired(ctx context.Context, protocol types.Protocol, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	result := s.db.Where("protocol = ? AND used = ? AND created_at < ?", string(protocol), false, cutoff).
		Delete(&presignatureModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

// Stats implements presig.Store against both the presignatures and presignature_usage tables
// (§4.5: total_generated, total_used, hourly_usage).
func (s *Store) Stats(ctx context.Context, protocol types.Protocol) (presig.Stats, error) {
	var totalGenerated, totalUsed, hourlyUsage int

	if err := s.db.Model(&presignatureModel{}).Where("protocol = ?", string(protocol)).
		Count(&totalGenerated).Error; err != nil {
		return presig.Stats{}, err
	}
	if err := s.db.Model(&presignatureModel{}).Where("protocol = ? AND used = ?", string(protocol), true).
		Count(&totalUsed).Error; err != nil {
		return presig.Stats{}, err
	}
	since := time.Now().Add(-time.Hour)
	if err := s.db.Model(&presignatureUsageModel{}).
		Where("protocol = ? AND used_at >= ?", string(protocol), since).
		Count(&hourlyUsage).Error; err != nil {
		return presig.Stats{}, err
	}

	return presig.Stats{
		TotalGenerated: int64(totalGenerated),
		TotalUsed:      int64(totalUsed),
		HourlyUsage:    int64(hourlyUsage),
	}, nil
}
