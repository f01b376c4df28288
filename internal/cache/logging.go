package cache

import (
	"context"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"tiergate/internal/metrics"
	"tiergate/pkg/logging/logging"
)

// LoggingStore wraps a Store with logging + metrics.
type LoggingStore struct {
	inner Store
}

// NewLoggingStore returns a store that logs and records metrics.
func NewLoggingStore(inner Store) Store {
	return &LoggingStore{inner: inner}
}

func (s *LoggingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := s.inner.Get(ctx, key)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	metrics.SnapshotStoreOpsTotal.WithLabelValues("get", result).Inc()

	fields := append(keyFields(key),
		zap.String("store_result", result), // hit | miss | error
		zap.Int("bytes", len(value)),
		zap.Float64("latency_ms", float64(time.Since(start).Microseconds())/1000.0),
	)

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("snapshot_store_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("snapshot_store_get", fields...)
	}

	return value, ok, err
}

func (s *LoggingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := s.inner.Set(ctx, key, value, ttl)

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.SnapshotStoreOpsTotal.WithLabelValues("set", result).Inc()

	fields := append(keyFields(key),
		zap.Int("bytes", len(value)),
		zap.Duration("ttl", ttl),
		zap.Float64("latency_ms", float64(time.Since(start).Microseconds())/1000.0),
	)

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("snapshot_store_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("snapshot_store_set", fields...)
	}

	return err
}

// Close releases the wrapped store when it holds resources.
func (s *LoggingStore) Close() error {
	if c, ok := s.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// keyFields splits catalog:<VERSION_ID>:<TIER> into log fields.
func keyFields(key string) []zap.Field {
	fields := []zap.Field{zap.String("store_key", key)}

	parts := strings.Split(key, ":")
	if len(parts) == 3 && parts[0] == "catalog" {
		fields = append(fields,
			zap.String("version_id", parts[1]),
			zap.String("tier", parts[2]),
		)
	}
	return fields
}
