package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists rate limit state per source.
type Store interface {
	// Get returns the stored state, or nil if none is stored.
	Get(ctx context.Context, source string) (*State, error)

	// Set stores the state, expiring it after ttl (0 = no expiry).
	Set(ctx context.Context, state *State, ttl time.Duration) error
}

// MemoryStore keeps state in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

// Get implements Store. Expiry is left to the tracker, which ignores states
// past their reset time.
func (m *MemoryStore) Get(_ context.Context, source string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[source]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, state *State, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.Source] = *state
	return nil
}

// RedisStore shares state between engine replicas through Redis.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore returns a Redis-backed Store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

func redisKey(source string) string {
	return RedisKeyPrefix + source
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, source string) (*State, error) {
	data, err := r.redis.Get(ctx, redisKey(source)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get rate limit state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal rate limit state: %w", err)
	}
	return &s, nil
}

// Set implements Store.
func (r *RedisStore) Set(ctx context.Context, state *State, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal rate limit state: %w", err)
	}
	if err := r.redis.Set(ctx, redisKey(state.Source), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set rate limit state: %w", err)
	}
	return nil
}
