// Package store keeps the challenge cooldown: a bot we challenged is not
// challenged again until its entry expires.
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown marks keys for a period. Acquire reports whether the key was free and
// is now taken.
type Cooldown interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Active(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

const keyPrefix = "lichess:challenge:cooldown:"

func cooldownKey(name string) string {
	return keyPrefix + strings.ToLower(strings.TrimSpace(name))
}

type RedisCooldown struct{ rdb *redis.Client }

// NewRedisCooldown connects using a redis:// URL.
func NewRedisCooldown(url string) (*RedisCooldown, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisCooldown{rdb: redis.NewClient(opts)}, nil
}

func NewRedisCooldownFromClient(rdb *redis.Client) *RedisCooldown { return &RedisCooldown{rdb: rdb} }

func (s *RedisCooldown) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, cooldownKey(key), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown acquire %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisCooldown) Active(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, cooldownKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown lookup %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisCooldown) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *RedisCooldown) Close() error { return s.rdb.Close() }

// MemoryCooldown is the in-process fallback when no Redis is configured.
type MemoryCooldown struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{until: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryCooldown) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := cooldownKey(key)
	now := m.now()
	if exp, ok := m.until[k]; ok && now.Before(exp) {
		return false, nil
	}
	m.until[k] = now.Add(ttl)
	m.gcLocked(now)
	return true, nil
}

func (m *MemoryCooldown) Active(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.until[cooldownKey(key)]
	return ok && m.now().Before(exp), nil
}

func (m *MemoryCooldown) Ping(context.Context) error { return nil }

func (m *MemoryCooldown) Close() error { return nil }

func (m *MemoryCooldown) gcLocked(now time.Time) {
	for k, exp := range m.until {
		if !now.Before(exp) {
			delete(m.until, k)
		}
	}
}
