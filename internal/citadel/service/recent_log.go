package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
)

// RecentLog remembers when each identity was last accepted in each
// direction. It backs the in-memory half of the debounce check; the
// persisted half is read from the attendance store.
type RecentLog interface {
	LastLogged(ctx context.Context, dir types.Direction, studentNo string) (*time.Time, error)
	MarkLogged(ctx context.Context, dir types.Direction, studentNo string, at time.Time) error
}

type recentKey struct {
	dir       types.Direction
	studentNo string
}

// MemoryRecentLog is the per-process RecentLog.
type MemoryRecentLog struct {
	mu   sync.Mutex
	last map[recentKey]time.Time
}

func NewMemoryRecentLog() *MemoryRecentLog {
	return &MemoryRecentLog{last: make(map[recentKey]time.Time)}
}

func (m *MemoryRecentLog) LastLogged(_ context.Context, dir types.Direction, studentNo string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.last[recentKey{dir, studentNo}]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *MemoryRecentLog) MarkLogged(_ context.Context, dir types.Direction, studentNo string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recentKey{dir, studentNo}
	if prev, ok := m.last[k]; !ok || at.After(prev) {
		m.last[k] = at
	}
	return nil
}

// RedisRecentLog shares the debounce memory between gates of one site.
// Keys expire after ttl, which should be at least the debounce window.
type RedisRecentLog struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisRecentLog(client *redis.Client, prefix string, ttl time.Duration) *RedisRecentLog {
	if prefix == "" {
		prefix = "citadel:recent"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisRecentLog{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisRecentLog) key(dir types.Direction, studentNo string) string {
	return r.prefix + ":" + string(dir) + ":" + studentNo
}

func (r *RedisRecentLog) LastLogged(ctx context.Context, dir types.Direction, studentNo string) (*time.Time, error) {
	v, err := r.client.Get(ctx, r.key(dir, studentNo)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recent log get: %w", err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("recent log value %q: %w", v, err)
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}

func (r *RedisRecentLog) MarkLogged(ctx context.Context, dir types.Direction, studentNo string, at time.Time) error {
	if err := r.client.Set(ctx, r.key(dir, studentNo), at.UTC().UnixMilli(), r.ttl).Err(); err != nil {
		return fmt.Errorf("recent log set: %w", err)
	}
	return nil
}

// NewRedisClient parses url and pings the server. It returns nil, nil when
// url is empty.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
