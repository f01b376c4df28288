// Package catalog keeps the tiered model directory: it fetches the upstream
// catalog, classifies models into tiers, probes their liveness and refreshes
// the result on a schedule.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tiergate/internal/cache"
	"tiergate/internal/metrics"
)

// Upstream is what the directory needs from the aggregation API.
type Upstream interface {
	Pinger
	ListModels(ctx context.Context) ([]byte, error)
}

// Status summarizes the current snapshot.
type Status struct {
	FreeModels    int       `json:"free_models"`
	StealthModels int       `json:"stealth_models"`
	LastRefreshed time.Time `json:"last_refreshed"`
}

// Directory holds the current tier snapshot. Published slices are never
// mutated; a refresh swaps them whole.
type Directory struct {
	cfg    Config
	up     Upstream
	store  cache.Store
	prober *prober
	logger *zap.Logger
	now    func() time.Time

	mu            sync.RWMutex
	tiers         map[Tier][]Model
	lastRefreshed time.Time
}

// New builds an empty directory. store may be nil, which disables snapshot
// persistence.
func New(cfg Config, up Upstream, store cache.Store, logger *zap.Logger) (*Directory, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if up == nil {
		return nil, errors.New("catalog: upstream is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("catalog")

	return &Directory{
		cfg:    cfg,
		up:     up,
		store:  store,
		prober: newProber(up, cfg, logger),
		logger: logger,
		now:    time.Now,
		tiers: map[Tier][]Model{
			TierFree:    {},
			TierStealth: {},
		},
		lastRefreshed: time.Now(),
	}, nil
}

// Models returns the tier's current snapshot. Callers must not modify it.
func (d *Directory) Models(tier Tier) []Model {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tiers[tier]
}

// Resolve finds a model in tier by canonical or display id.
func (d *Directory) Resolve(tier Tier, id string) (Model, bool) {
	for _, m := range d.Models(tier) {
		if m.MatchesDisplayID(id) {
			return m, true
		}
	}
	return Model{}, false
}

func (d *Directory) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Status{
		FreeModels:    len(d.tiers[TierFree]),
		StealthModels: len(d.tiers[TierStealth]),
		LastRefreshed: d.lastRefreshed,
	}
}

type apiResponse struct {
	Data []Model `json:"data"`
}

func (d *Directory) fetch(ctx context.Context) ([]Model, error) {
	body, err := d.up.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch models: %w", err)
	}
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.UpstreamErrorsTotal.WithLabelValues("decode").Inc()
		return nil, fmt.Errorf("catalog: decode models: %w", err)
	}
	d.logger.Info("fetched models", zap.Int("count", len(resp.Data)))
	return resp.Data, nil
}

// FullRefresh fetches, classifies and probes every model. On any failure the
// previous snapshot is kept.
func (d *Directory) FullRefresh(ctx context.Context) (err error) {
	defer func() { d.countRefresh("full", err) }()

	d.logger.Info("full model refresh")
	all, err := d.fetch(ctx)
	if err != nil {
		return err
	}

	free, stealth := Classify(all)
	d.logger.Info("classified models", zap.Int("free", len(free)), zap.Int("stealth", len(stealth)))

	if d.prober.enabled() {
		if free, err = d.prober.healthy(ctx, TierFree, free); err != nil {
			return err
		}
		if stealth, err = d.prober.healthy(ctx, TierStealth, stealth); err != nil {
			return err
		}
	} else {
		d.logger.Info("no probe key set, skipping health checks")
	}

	d.publish(ctx, map[Tier][]Model{TierFree: free, TierStealth: stealth})
	return nil
}

// DiffRefresh drops models that left the catalog, keeps existing ones without
// re-probing and probes only newcomers before admitting them.
func (d *Directory) DiffRefresh(ctx context.Context) (err error) {
	defer func() { d.countRefresh("diff", err) }()

	d.logger.Info("diff model refresh")
	all, err := d.fetch(ctx)
	if err != nil {
		return err
	}

	freshFree, freshStealth := Classify(all)

	next := make(map[Tier][]Model, len(Tiers))
	for tier, fresh := range map[Tier][]Model{TierFree: freshFree, TierStealth: freshStealth} {
		merged, err := d.diffTier(ctx, tier, d.Models(tier), fresh)
		if err != nil {
			return err
		}
		next[tier] = merged
	}

	d.publish(ctx, next)
	return nil
}

func (d *Directory) diffTier(ctx context.Context, tier Tier, old, fresh []Model) ([]Model, error) {
	oldIDs := make(map[string]struct{}, len(old))
	for _, m := range old {
		oldIDs[m.ID] = struct{}{}
	}
	freshIDs := make(map[string]struct{}, len(fresh))
	for _, m := range fresh {
		freshIDs[m.ID] = struct{}{}
	}

	kept := make([]Model, 0, len(old))
	removed := 0
	for _, m := range old {
		if _, ok := freshIDs[m.ID]; ok {
			kept = append(kept, m)
		} else {
			removed++
			d.logger.Warn("model removed", zap.String("tier", string(tier)), zap.String("model", m.ID))
		}
	}

	var added []Model
	for _, m := range fresh {
		if _, ok := oldIDs[m.ID]; !ok {
			added = append(added, m)
		}
	}

	admitted := added
	if len(added) > 0 && d.prober.enabled() {
		var err error
		if admitted, err = d.prober.healthy(ctx, tier, added); err != nil {
			return nil, err
		}
	}

	result := append(kept, admitted...)

	if removed > 0 || len(added) > 0 {
		d.logger.Info("tier changed",
			zap.String("tier", string(tier)),
			zap.Int("kept", len(kept)),
			zap.Int("removed", removed),
			zap.Int("added", len(admitted)),
			zap.Int("rejected", len(added)-len(admitted)),
			zap.Int("total", len(result)),
		)
	} else {
		d.logger.Info("tier unchanged", zap.String("tier", string(tier)), zap.Int("total", len(result)))
	}
	return result, nil
}

func (d *Directory) publish(ctx context.Context, next map[Tier][]Model) {
	now := d.now()

	d.mu.Lock()
	for tier, models := range next {
		d.tiers[tier] = models
	}
	d.lastRefreshed = now
	d.mu.Unlock()

	for tier, models := range next {
		metrics.CatalogModels.WithLabelValues(string(tier)).Set(float64(len(models)))
	}
	d.logger.Info("model directory updated",
		zap.Int("free", len(next[TierFree])),
		zap.Int("stealth", len(next[TierStealth])),
	)

	d.persist(ctx, next, now)
}

func (d *Directory) countRefresh(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		d.logger.Error("model refresh failed, keeping previous snapshot",
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
	metrics.CatalogRefreshTotal.WithLabelValues(kind, result).Inc()
}

// Run performs a diff refresh every RefreshInterval until ctx is done.
func (d *Directory) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		d.logger.Info("next refresh scheduled", zap.Duration("in", d.cfg.RefreshInterval))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = d.DiffRefresh(ctx)
		}
	}
}
