package presig

import (
	"context"
	"time"
)

// evictionInterval is how often the eviction sweep runs. Not named by §4.5 (only the 24h age
// itself is), so this follows the ambient "tick an order of magnitude below the window it
// enforces" convention used by the timeout monitor's budgets.
const evictionInterval = time.Hour

// RunEviction periodically removes presignatures older than cfg.UnusedMaxAge that were never
// consumed (§4.5: "24h unused-eviction"). Every node runs this, not just the leader: eviction is
// a housekeeping read/delete over each node's own replica, unlike generation which must only run
// once cluster-wide.
func (p *Pool) RunEviction(ctx context.Context) {
	ticker := time.NewTicker(evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted, err := p.store.EvictExpired(ctx, p.protocol, p.cfg.UnusedMaxAge)
			if err != nil {
				log.Warnf("eviction sweep: %s", err)
				continue
			}
			if evicted > 0 {
				log.Infof("evicted %d unused presignatures older than %s", evicted, p.cfg.UnusedMaxAge)
			}
		}
	}
}
