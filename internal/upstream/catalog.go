package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"tiergate/internal/metrics"
)

// ListModels fetches the raw model catalog, retrying transient failures.
func (c *Client) ListModels(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CatalogTimeout)
	defer cancel()

	start := time.Now()
	url := c.cfg.BaseURL + "/models"

	resp, err := c.doWithRetry(ctx, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("upstream: build catalog request: %w", err)
		}
		httpReq.Header.Set("Accept", "application/json")
		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		metrics.UpstreamErrorsTotal.WithLabelValues("transport").Inc()
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError(resp, "upstream catalog error")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream: read catalog: %w", err)
	}

	c.logger.Debug("catalog fetched",
		zap.Int("bytes", len(body)),
		zap.Duration("duration", time.Since(start)),
	)
	return body, nil
}

// ProbeResult is the outcome of a liveness ping that reached the upstream.
type ProbeResult struct {
	StatusCode int
	Body       string
}

// Ping sends a one-token completion to modelID.
func (c *Client) Ping(ctx context.Context, apiKey, modelID string) (ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]any{
		"model":      modelID,
		"messages":   []map[string]string{{"role": "user", "content": "hi"}},
		"max_tokens": 1,
	})
	if err != nil {
		return ProbeResult{}, fmt.Errorf("upstream: marshal ping: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return ProbeResult{}, fmt.Errorf("upstream: build ping: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ProbeResult{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	return ProbeResult{StatusCode: resp.StatusCode, Body: string(body)}, nil
}
