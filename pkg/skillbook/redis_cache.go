//go:build enterprise
// +build enterprise

package skillbook

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the optional Redis-backed skills excerpt cache,
// enabled only in enterprise builds so a horizontally-scaled orchestrator
// deployment can share rendered top-K excerpts across processes.
type RedisConfig struct {
	Enabled               bool
	Addr                  string
	Password              string
	DB                    int
	TLSInsecureSkipVerify bool
}

// RedisSkillsCache mirrors Cache's excerpt-caching role but backed by
// Redis, so multiple orchestrator processes sharing an agent directory can
// avoid redundant top-K rendering.
type RedisSkillsCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisSkillsCache builds a Redis-backed excerpt cache when enabled.
// Returns nil, nil when disabled.
func NewRedisSkillsCache(cfg RedisConfig, ttl time.Duration) (*RedisSkillsCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSInsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis skills cache ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 1 * time.Hour
	}
	return &RedisSkillsCache{client: client, ttl: ttl}, nil
}

func (c *RedisSkillsCache) key(agentDir string, generation int64) string {
	return fmt.Sprintf("skillbook:%s:%d:excerpt", agentDir, generation)
}

// GetExcerpt retrieves a cached rendered excerpt. Returns false if not
// cached, the client is nil, or c itself is nil (so callers can treat an
// unconfigured cache identically to a cache miss).
func (c *RedisSkillsCache) GetExcerpt(ctx context.Context, agentDir string, generation int64) (string, bool) {
	if c == nil || c.client == nil {
		return "", false
	}
	val, err := c.client.Get(ctx, c.key(agentDir, generation)).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// SetExcerpt caches a rendered excerpt.
func (c *RedisSkillsCache) SetExcerpt(ctx context.Context, agentDir string, generation int64, excerpt string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Set(ctx, c.key(agentDir, generation), excerpt, c.ttl).Err()
}

// Invalidate removes every cached excerpt for agentDir across generations.
func (c *RedisSkillsCache) Invalidate(ctx context.Context, agentDir string) error {
	if c == nil || c.client == nil {
		return nil
	}
	pattern := fmt.Sprintf("skillbook:%s:*", agentDir)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Close closes the underlying Redis client.
func (c *RedisSkillsCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
