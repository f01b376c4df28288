package cache

import (
	"context"
	"fmt"
	"time"
)

// SnapshotKey is the key a tier snapshot is stored under.
type SnapshotKey struct {
	VersionID string
	Tier      string
}

// String converts the structured key into the final string used in Redis/map.
func (k SnapshotKey) String() string {
	// catalog:<VERSION_ID>:<TIER>
	return fmt.Sprintf("catalog:%s:%s", k.VersionID, k.Tier)
}

// Store is the snapshot store used by the model directory.
// Implemented by the memory store (dev) and Redis store (prod).
// A ttl <= 0 stores the value without expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
