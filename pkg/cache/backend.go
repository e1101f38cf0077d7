package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend stores entries by item key. Implementations replace entries
// whole: a reader never observes a partially written entry.
type Backend interface {
	// Name labels metrics ("memory", "redis").
	Name() string

	// Load returns ErrCacheMiss when the key is absent and an error
	// matching ErrInvalidEntry when the stored entry cannot be decoded.
	Load(ctx context.Context, key string) (Entry, error)

	// Store replaces the entry for key.
	Store(ctx context.Context, key string, entry Entry) error

	// Delete removes key; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists the stored item keys.
	Keys(ctx context.Context) ([]string, error)
}

// MemoryBackend keeps entries in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]Entry)}
}

// Name implements Backend.
func (m *MemoryBackend) Name() string { return "memory" }

// Load implements Backend.
func (m *MemoryBackend) Load(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, ErrCacheMiss
	}
	e.Set = e.Set.Clone()
	return e, nil
}

// Store implements Backend.
func (m *MemoryBackend) Store(_ context.Context, key string, entry Entry) error {
	entry.Set = entry.Set.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Keys implements Backend.
func (m *MemoryBackend) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

// RedisBackend stores JSON entries in Redis. Entries expire in Redis after
// ttl, which should equal the cache's StaleTTL.
type RedisBackend struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisBackend creates a Redis backend.
func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &RedisBackend{redis: client, ttl: ttl}
}

// Name implements Backend.
func (r *RedisBackend) Name() string { return "redis" }

// Load implements Backend.
func (r *RedisBackend) Load(ctx context.Context, key string) (Entry, error) {
	data, err := r.redis.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return Entry{}, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return entry, nil
}

// Store implements Backend.
func (r *RedisBackend) Store(ctx context.Context, key string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := r.redis.Set(ctx, redisKey(key), data, r.ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.redis.Del(ctx, redisKey(key)).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Keys implements Backend using SCAN so large caches do not block Redis.
func (r *RedisBackend) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.redis.Scan(ctx, 0, RedisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, itemKey(iter.Val()))
	}
	if err := iter.Err(); err != nil {
		CacheErrors.WithLabelValues("keys").Inc()
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}
