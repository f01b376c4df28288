package cache

import (
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Backend         string // "memory" or "redis"
	Prefix          string
	CleanupInterval time.Duration
}

// NewStore picks the backend; redisClient is only used when Backend is
// "redis". The result is wrapped with logging and metrics.
func NewStore(cfg Config, redisClient *redis.Client) Store {
	var inner Store
	switch cfg.Backend {
	case "redis":
		inner = NewRedisStore(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
		})
	default:
		inner = NewMemoryStore(cfg.CleanupInterval)
	}
	return NewLoggingStore(inner)
}
