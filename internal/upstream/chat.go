package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"tiergate/internal/metrics"
)

const (
	logBodyLimit   = 200
	errorBodyLimit = 64 * 1024
)

// ChatCompletions sends one Chat Completions request with the caller's key.
// There is no retry. On success the caller owns resp.Body; a non-2xx answer
// is drained, logged and returned as *StatusError.
func (c *Client) ChatCompletions(ctx context.Context, apiKey string, body []byte) (*http.Response, error) {
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: build chat request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.UpstreamErrorsTotal.WithLabelValues("transport").Inc()
		c.logger.Warn("upstream chat request failed",
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("upstream error: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError(resp, "upstream chat error")
	}

	c.logger.Debug("upstream chat response",
		zap.Int("status", resp.StatusCode),
		zap.String("content_type", resp.Header.Get("Content-Type")),
		zap.Duration("ttfb", time.Since(start)),
	)
	return resp, nil
}

// Forward relays a request verbatim to base+path. Upstream status codes are
// returned as-is; only transport failures produce an error.
func (c *Client) Forward(ctx context.Context, method, path string, header http.Header, body []byte) (*http.Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("upstream: build forward request: %w", err)
	}
	httpReq.Header = header

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.UpstreamErrorsTotal.WithLabelValues("transport").Inc()
		return nil, fmt.Errorf("upstream error: %w", err)
	}
	return resp, nil
}

func (c *Client) statusError(resp *http.Response, msg string) *StatusError {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))

	metrics.UpstreamErrorsTotal.WithLabelValues("status").Inc()
	c.logger.Warn(msg,
		zap.Int("status", resp.StatusCode),
		zap.String("body", truncate(string(raw), logBodyLimit)),
	)
	return &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
}
