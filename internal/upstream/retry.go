package upstream

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	maxRetryAfter = 5 * time.Minute
	maxBackoff    = 30 * time.Second
)

// doWithRetry runs do up to MaxRetries+1 times. Only transient network
// errors, 408, 429 and 5xx are retried; Retry-After is honored. The final
// response is returned unread whatever its status.
func (c *Client) doWithRetry(
	ctx context.Context,
	do func(ctx context.Context) (*http.Response, error),
) (*http.Response, error) {
	maxAttempts := c.cfg.MaxRetries + 1
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := do(ctx)
		last := attempt == maxAttempts-1

		var wait time.Duration
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || !isTransientNetError(err) {
				return nil, err
			}
			lastErr = err
		case !shouldRetryStatus(resp.StatusCode) || last:
			return resp, nil
		default:
			lastErr = fmt.Errorf("upstream status %d", resp.StatusCode)
			wait = parseRetryAfter(resp)
			resp.Body.Close()
		}

		if last {
			break
		}
		if wait <= 0 {
			wait = computeBackoff(c.cfg.BaseBackoff, attempt)
		}

		c.logger.Debug("retrying upstream request",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("wait", wait),
			zap.Error(lastErr),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	c.logger.Warn("upstream request exhausted retries",
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
	return nil, fmt.Errorf("upstream: max retries (%d) exceeded: %w", maxAttempts, lastErr)
}

func isTransientNetError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial", "read", "write":
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "broken pipe", "eof"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func shouldRetryStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		(status >= 500 && status <= 599)
}

// parseRetryAfter accepts delay-seconds or an HTTP date; 0 means absent.
func parseRetryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}

	var d time.Duration
	if seconds, err := strconv.Atoi(v); err == nil {
		d = time.Duration(seconds) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = time.Until(t)
	}

	if d <= 0 {
		return 0
	}
	return min(d, maxRetryAfter)
}

// computeBackoff returns a full-jitter delay in [0, base*2^attempt), capped.
func computeBackoff(base time.Duration, attempt int) time.Duration {
	attempt = min(attempt, 10)
	ceiling := min(base<<attempt, maxBackoff)
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(ceiling)))
}
