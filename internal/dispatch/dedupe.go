// Package dispatch enqueues ingestion jobs from HTTP, webhook, and timer
// entrypoints, and keeps duplicate submissions idempotent within a short
// window.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DedupeStore suppresses duplicate job submissions. Claim returns true when
// the key was free and is now held for ttl.
type DedupeStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisDedupeStore is the Redis-backed implementation.
type RedisDedupeStore struct {
	client *redis.Client
}

// NewRedisDedupeStore connects to Redis at addr and pings it.
func NewRedisDedupeStore(addr string) (*RedisDedupeStore, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisDedupeStore{client: c}, nil
}

// Claim sets the key if absent.
func (s *RedisDedupeStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, "1", ttl).Result()
}

// Close closes the underlying client.
func (s *RedisDedupeStore) Close() error { return s.client.Close() }

// MemoryDedupeStore is the in-process fallback when Redis is not configured.
type MemoryDedupeStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryDedupeStore builds an empty in-memory store.
func NewMemoryDedupeStore() *MemoryDedupeStore {
	return &MemoryDedupeStore{expires: make(map[string]time.Time), now: time.Now}
}

// Claim sets the key if absent or expired.
func (s *MemoryDedupeStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if exp, ok := s.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.expires[key] = now.Add(ttl)
	return true, nil
}
