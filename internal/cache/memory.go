package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore keeps snapshots in process memory. Snapshots do not survive a
// restart; use the Redis store for that.
type MemoryStore struct {
	mu              sync.RWMutex
	items           map[string]memoryEntry
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
	cleanupInterval time.Duration
}

// NewMemoryStore starts a store whose sweeper runs every cleanupInterval
// (5 minutes when <= 0).
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	s := &MemoryStore{
		items:           make(map[string]memoryEntry),
		stopCleanup:     make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}

	go s.cleanupExpired()

	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, ok := s.items[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}

	now := time.Now()
	if entry.expired(now) {
		s.mu.Lock()
		if e, exists := s.items[key]; exists && e.expired(now) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	// Copy to decouple from caller's buffer
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.items[key] = memoryEntry{
		value:     valueCopy,
		expiresAt: expiresAt,
	}
	s.mu.Unlock()

	return nil
}

// cleanupExpired runs periodically to remove expired entries.
func (s *MemoryStore) cleanupExpired() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for k, v := range s.items {
				if v.expired(now) {
					delete(s.items, k)
				}
			}
			s.mu.Unlock()
		case <-s.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine. Call this on shutdown or in tests.
func (s *MemoryStore) Close() error {
	s.cleanupOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

// Len returns the number of items currently held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
