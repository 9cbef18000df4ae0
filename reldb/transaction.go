package reldb

import (
	"context"
	"time"

	cerrors "github.com/mpcwallet/orchestrator/errors"
	"github.com/mpcwallet/orchestrator/types"
)

// GetTransaction implements fsm.Store and vote.TransactionReader.
func (s *Store) GetTransaction(ctx context.Context, txID types.TxId) (*types.Transaction, bool, error) {
	var model transactionModel
	result := s.db.First(&model, "tx_id = ?", string(txID))
	if isNotFound(result) {
		return nil, false, nil
	}
	if err := dbErr(result); err != nil {
		return nil, false, err
	}
	return model.toDomain(), true, nil
}

// GetTransactionsByState implements fsm.Store, backing each phase worker's scan of its own
// lifecycle state (§4.4).
func (s *Store) GetTransactionsByState(ctx context.Context, state types.TransactionState) ([]types.Transaction, error) {
	var models []transactionModel
	if err := s.db.Where("state = ?", string(state)).Find(&models).Error; err != nil {
		return nil, err
	}
	txs := make([]types.Transaction, len(models))
	for i := range models {
		txs[i] = *models[i].toDomain()
	}
	return txs, nil
}

// UpdateTransactionState implements fsm.Store, the one FSM transition primitive every phase
// worker calls through. It writes newState unconditionally; neither this method nor its callers
// check the edge with types.CanTransition.
func (s *Store) UpdateTransactionState(ctx context.Context, txID types.TxId, newState types.TransactionState) error {
	result := s.db.Model(&transactionModel{}).Where("tx_id = ?", string(txID)).
		Updates(map[string]interface{}{"state": string(newState), "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return cerrors.NotFound("transaction " + string(txID))
	}
	return nil
}

func (s *Store) SetSignedTransaction(ctx context.Context, txID types.TxId, signedBytes []byte) error {
	return s.db.Model(&transactionModel{}).Where("tx_id = ?", string(txID)).
		Update("signed_bytes", signedBytes).Error
}

func (s *Store) SetBroadcastTxid(ctx context.Context, txID types.TxId, txid string) error {
	return s.db.Model(&transactionModel{}).Where("tx_id = ?", string(txID)).
		Update("txid", txid).Error
}

func (s *Store) SetConfirmations(ctx context.Context, txID types.TxId, confirmations int64) error {
	return s.db.Model(&transactionModel{}).Where("tx_id = ?", string(txID)).
		Update("confirmations", confirmations).Error
}

// RecordAuditEvent implements fsm.Store against the audit_log table (§10.2 schema).
func (s *Store) RecordAuditEvent(ctx context.Context, txID types.TxId, event string, detail string) error {
	return s.db.Create(&auditLogModel{
		TxID:       string(txID),
		Event:      event,
		Detail:     detail,
		RecordedAt: time.Now(),
	}).Error
}

// CreateTransaction inserts a brand new transaction row in StatePending. Not named on any
// interface seam directly (transactions are admitted via the HTTP API, api/'s concern), but
// lives here alongside the rest of the transactions table's CRUD since api/ needs exactly this
// write path and reldb is where every table write belongs.
func (s *Store) CreateTransaction(ctx context.Context, tx *types.Transaction) error {
	return s.db.Create(transactionModelFrom(tx)).Error
}

// ListTransactions backs GET /api/v1/transactions' pagination (§6), newest first.
func (s *Store) ListTransactions(ctx context.Context, limit, offset int) ([]types.Transaction, error) {
	var models []transactionModel
	if err := s.db.Order("created_at desc").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, err
	}
	txs := make([]types.Transaction, len(models))
	for i := range models {
		txs[i] = *models[i].toDomain()
	}
	return txs, nil
}
