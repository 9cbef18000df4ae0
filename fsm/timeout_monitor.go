package fsm

import (
	"context"
	"time"

	"github.com/mpcwallet/orchestrator/types"
)

// TimeoutMonitor is the second, deliberately redundant timeout mechanism named by §4.4/§5: where
// the Poller's garbage collection uses one coarse GCAge across every non-terminal phase, this
// monitor tracks a separate budget per phase (voting/signing/broadcasting) at a tighter tick
// interval, so a stuck signing ceremony is caught in well under an hour.
type TimeoutMonitor struct {
	store Store
	cfg   Config
}

func NewTimeoutMonitor(store Store, cfg Config) *TimeoutMonitor {
	return &TimeoutMonitor{store: store, cfg: cfg}
}

// Run ticks at cfg.TimeoutMonitorInterval until ctx is cancelled.
func (m *TimeoutMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.TimeoutMonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick scans each budgeted phase once. Exported so tests can drive it without a ticker.
func (m *TimeoutMonitor) Tick(ctx context.Context) {
	m.checkPhase(ctx, types.StateVoting, m.cfg.VotingBudget, "voting_timeout")
	m.checkPhase(ctx, types.StateSigning, m.cfg.SigningBudget, "signing_timeout")
	m.checkPhase(ctx, types.StateBroadcasting, m.cfg.BroadcastingBudget, "broadcasting_timeout")
}

func (m *TimeoutMonitor) checkPhase(ctx context.Context, state types.TransactionState, budget time.Duration, auditEvent string) {
	txs, err := m.store.GetTransactionsByState(ctx, state)
	if err != nil {
		log.Warnf("timeout monitor: listing %s transactions: %s", state, err)
		return
	}
	for _, tx := range txs {
		if time.Since(tx.UpdatedAt) < budget {
			continue
		}
		if err := m.store.UpdateTransactionState(ctx, tx.ID, types.StateFailed); err != nil {
			log.Warnf("timeout monitor: tx %s: force-failing overrun %s phase: %s", tx.ID, state, err)
			continue
		}
		_ = m.store.RecordAuditEvent(ctx, tx.ID, auditEvent, "")
	}
}
