package reldb

import (
	"context"
	"time"

	"github.com/mpcwallet/orchestrator/types"
)

// CreateCeremony implements ceremony.CeremonyStore against the dkg_ceremonies table.
func (s *Store) CreateCeremony(ctx context.Context, ceremony *types.Ceremony) error {
	return s.db.Create(ceremonyModelFrom(ceremony)).Error
}

// UpdateCeremonyStatus implements ceremony.CeremonyStore, called once a ceremony's engine run
// finishes (§4.3.1 steps 7-8), for every CeremonyKind.
func (s *Store) UpdateCeremonyStatus(ctx context.Context, sessionID types.SessionId, status types.CeremonyStatus, publicKey []byte, ceremonyErr string) error {
	now := time.Now()
	return s.db.Model(&ceremonyModel{}).Where("session_id = ?", sessionID.String()).
		Updates(map[string]interface{}{
			"status":       string(status),
			"public_key":   publicKey,
			"error":        ceremonyErr,
			"completed_at": &now,
		}).Error
}

// UpdateCeremonyAddress implements ceremony.CeremonyStore, called after DkgService derives the
// Bitcoin address from a completed DKG's resulting public key (§4.3.4).
func (s *Store) UpdateCeremonyAddress(ctx context.Context, sessionID types.SessionId, address string) error {
	return s.db.Model(&ceremonyModel{}).Where("session_id = ?", sessionID.String()).
		Update("address", address).Error
}

// GetCeremony implements ceremony.CeremonyStore, used by RunAsParticipant's bounded-retry read
// (§4.3.2: tolerates replication lag between the coordinator's write and a joining node's read).
func (s *Store) GetCeremony(ctx context.Context, sessionID types.SessionId) (*types.Ceremony, bool, error) {
	var model ceremonyModel
	result := s.db.First(&model, "session_id = ?", sessionID.String())
	if isNotFound(result) {
		return nil, false, nil
	}
	if err := dbErr(result); err != nil {
		return nil, false, err
	}
	ceremony, err := model.toDomain()
	if err != nil {
		return nil, false, err
	}
	return ceremony, true, nil
}

// LatestCompletedCeremony finds the most recent successfully completed ceremony of kind for
// protocol, backing GET /api/v1/wallet/address (§6: "address derived from latest completed
// DKG") and the analogous status lookups.
func (s *Store) LatestCompletedCeremony(ctx context.Context, protocol types.Protocol, kind types.CeremonyKind) (*types.Ceremony, bool, error) {
	var model ceremonyModel
	result := s.db.Where("protocol = ? AND kind = ? AND status = ?",
		string(protocol), string(kind), string(types.CeremonyCompleted)).
		Order("completed_at desc").First(&model)
	if isNotFound(result) {
		return nil, false, nil
	}
	if err := dbErr(result); err != nil {
		return nil, false, err
	}
	ceremony, err := model.toDomain()
	if err != nil {
		return nil, false, err
	}
	return ceremony, true, nil
}

// HasAuxInfo implements ceremony.AuxInfoStore: the aux-info auto-chain's idempotency check
// (§4.3.6) only needs to know whether *this* node already recorded its own aux-info for the
// originating DKG session.
func (s *Store) HasAuxInfo(ctx context.Context, dkgSessionID types.SessionId) (bool, error) {
	var count int
	err := s.db.Model(&auxInfoModel{}).Where("session_id = ?", dkgSessionID.String()).Count(&count).Error
	return count > 0, err
}

// RecordAuxInfo implements ceremony.AuxInfoStore against the aux_info table. A second call for
// the same (session_id, node_id) is a caller bug given HasAuxInfo's idempotency guard, so any
// unique-constraint error here is surfaced rather than swallowed like RecordVote's.
func (s *Store) RecordAuxInfo(ctx context.Context, dkgSessionID types.SessionId, nodeID types.NodeId, metadata []byte) error {
	return s.db.Create(&auxInfoModel{
		SessionID: dkgSessionID.String(),
		NodeID:    uint32(nodeID),
		Metadata:  metadata,
	}).Error
}
