package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrWindowExpiry is returned alongside a valid count when the increment
// succeeded but the window expiry could not be set or checked.
var ErrWindowExpiry = errors.New("alert window expiry not set")

// WindowStore holds the alert window counters. Increment starts a fresh
// window at now when none exists or the current one has elapsed, adds one and
// returns the new count. Denied calls still increment, and incrementing never
// restarts a live window.
type WindowStore interface {
	Increment(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error)
}

type windowState struct {
	start time.Time
	count int64
}

// MemoryWindowStore is a process-local WindowStore.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string]windowState
}

// NewMemoryWindowStore creates an empty MemoryWindowStore.
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: make(map[string]windowState)}
}

func (s *MemoryWindowStore) Increment(_ context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.windows[key]
	if !ok || !now.Before(st.start.Add(window)) {
		st = windowState{start: now}
	}
	st.count++
	s.windows[key] = st
	return st.count, nil
}

// redisCounter is the slice of the go-redis client the store uses.
type redisCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

// RedisWindowStore shares window counters across instances. The window is
// the key's TTL, set by the increment that created the key.
type RedisWindowStore struct {
	client redisCounter
}

// NewRedisWindowStore wraps a go-redis client.
func NewRedisWindowStore(client redisCounter) *RedisWindowStore {
	return &RedisWindowStore{client: client}
}

func (s *RedisWindowStore) Increment(ctx context.Context, key string, _ time.Time, window time.Duration) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return count, fmt.Errorf("%w: %v", ErrWindowExpiry, err)
		}
		return count, nil
	}
	// A crash between INCR and EXPIRE leaves a key without TTL; repair it so
	// the window cannot stay closed forever.
	ttl, err := s.client.TTL(ctx, key).Result()
	if err == nil && ttl == -1 {
		err = s.client.Expire(ctx, key, window).Err()
	}
	if err != nil {
		return count, fmt.Errorf("%w: %v", ErrWindowExpiry, err)
	}
	return count, nil
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}
