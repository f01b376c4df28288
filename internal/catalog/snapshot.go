package catalog

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"tiergate/internal/cache"
	"tiergate/internal/metrics"
)

type snapshot struct {
	RefreshedAt time.Time `json:"refreshed_at"`
	Models      []Model   `json:"models"`
}

func (d *Directory) snapshotKey(tier Tier) string {
	return cache.SnapshotKey{VersionID: d.cfg.VersionID, Tier: string(tier)}.String()
}

// persist writes each tier to the snapshot store. Failures are logged by the
// store and never fail a refresh.
func (d *Directory) persist(ctx context.Context, tiers map[Tier][]Model, at time.Time) {
	if d.store == nil {
		return
	}
	for tier, models := range tiers {
		raw, err := json.Marshal(snapshot{RefreshedAt: at, Models: models})
		if err != nil {
			d.logger.Error("encode snapshot", zap.String("tier", string(tier)), zap.Error(err))
			continue
		}
		_ = d.store.Set(ctx, d.snapshotKey(tier), raw, d.cfg.SnapshotTTL)
	}
}

// Restore loads the last persisted snapshot so the gateway can answer before
// the first refresh completes. It reports whether any tier was restored.
func (d *Directory) Restore(ctx context.Context) bool {
	if d.store == nil {
		return false
	}

	restored := make(map[Tier]snapshot, len(Tiers))
	for _, tier := range Tiers {
		raw, ok, err := d.store.Get(ctx, d.snapshotKey(tier))
		if err != nil || !ok {
			continue
		}
		var snap snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			d.logger.Warn("discarding unreadable snapshot", zap.String("tier", string(tier)), zap.Error(err))
			continue
		}
		if snap.Models == nil {
			snap.Models = []Model{}
		}
		restored[tier] = snap
	}
	if len(restored) == 0 {
		return false
	}

	d.mu.Lock()
	var latest time.Time
	for tier, snap := range restored {
		d.tiers[tier] = snap.Models
		if snap.RefreshedAt.After(latest) {
			latest = snap.RefreshedAt
		}
	}
	if !latest.IsZero() {
		d.lastRefreshed = latest
	}
	d.mu.Unlock()

	for tier, snap := range restored {
		metrics.CatalogModels.WithLabelValues(string(tier)).Set(float64(len(snap.Models)))
		d.logger.Info("restored snapshot",
			zap.String("tier", string(tier)),
			zap.Int("models", len(snap.Models)),
			zap.Time("refreshed_at", snap.RefreshedAt),
		)
	}
	return true
}
