package catalog

import (
	"context"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"tiergate/internal/upstream"
)

const probeLogBodyLimit = 120

// Pinger sends one liveness request for a model.
type Pinger interface {
	Ping(ctx context.Context, apiKey, modelID string) (upstream.ProbeResult, error)
}

type prober struct {
	pinger      Pinger
	key         string
	concurrency int
	limiter     *rate.Limiter
	logger      *zap.Logger
}

func newProber(pinger Pinger, cfg Config, logger *zap.Logger) *prober {
	return &prober{
		pinger:      pinger,
		key:         cfg.ProbeKey,
		concurrency: cfg.Concurrency,
		limiter:     rate.NewLimiter(rate.Limit(cfg.ProbeRate), cfg.Concurrency),
		logger:      logger,
	}
}

func (p *prober) enabled() bool {
	return p.key != ""
}

// healthy returns the models that answered the probe, in input order.
// A cancelled ctx stops the batch and is reported as the error.
func (p *prober) healthy(ctx context.Context, tier Tier, models []Model) ([]Model, error) {
	if len(models) == 0 {
		return models, nil
	}
	p.logger.Info("health-checking models",
		zap.String("tier", string(tier)),
		zap.Int("count", len(models)),
		zap.Int("concurrency", p.concurrency),
	)

	alive := make([]bool, len(models))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, m := range models {
		if err := p.limiter.Wait(gctx); err != nil {
			break
		}
		i, m := i, m
		g.Go(func() error {
			alive[i] = p.ping(gctx, m)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Model, 0, len(models))
	for i, m := range models {
		if alive[i] {
			out = append(out, m)
		}
	}
	p.logger.Info("health check finished",
		zap.String("tier", string(tier)),
		zap.Int("passed", len(out)),
		zap.Int("failed", len(models)-len(out)),
	)
	return out, nil
}

// ping treats 2xx as alive and 429 as alive but rate-limited.
func (p *prober) ping(ctx context.Context, m Model) bool {
	res, err := p.pinger.Ping(ctx, p.key, m.ID)
	switch {
	case err != nil:
		p.logger.Warn("probe failed", zap.String("model", m.ID), zap.Error(err))
		return false
	case res.StatusCode >= 200 && res.StatusCode < 300:
		p.logger.Debug("probe ok", zap.String("model", m.ID))
		return true
	case res.StatusCode == http.StatusTooManyRequests:
		p.logger.Info("probe rate-limited, assumed alive", zap.String("model", m.ID))
		return true
	default:
		body := res.Body
		if len(body) > probeLogBodyLimit {
			body = body[:probeLogBodyLimit]
		}
		p.logger.Warn("probe rejected",
			zap.String("model", m.ID),
			zap.Int("status", res.StatusCode),
			zap.String("body", body),
		)
		return false
	}
}
