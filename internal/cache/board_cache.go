// Package cache provides Redis-backed caching for board snapshots.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/kennelboard/internal/domain"
)

// BoardCache stores and invalidates board snapshots per facility.
type BoardCache interface {
	Get(ctx context.Context, facilityID string) (*domain.BoardSnapshot, bool, error)
	Set(ctx context.Context, snap *domain.BoardSnapshot) error
	Invalidate(ctx context.Context, facilityID string) error
}

// Noop is a no-op implementation used when no Redis is configured.
type Noop struct{}

func (Noop) Get(context.Context, string) (*domain.BoardSnapshot, bool, error) { return nil, false, nil }
func (Noop) Set(context.Context, *domain.BoardSnapshot) error                 { return nil }
func (Noop) Invalidate(context.Context, string) error                         { return nil }

// RedisBoardCache keeps the most recent board snapshot per facility
// with a short TTL. Timer classifications inside a cached snapshot go
// stale within the TTL; clients re-evaluate timers on every tick, so
// only a very fresh snapshot is worth serving.
type RedisBoardCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisBoardCache connects to Redis and verifies the connection.
func NewRedisBoardCache(redisURL string, ttl time.Duration) (*RedisBoardCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisBoardCacheWithClient(client, ttl), nil
}

// NewRedisBoardCacheWithClient builds a cache from an existing client.
func NewRedisBoardCacheWithClient(client *redis.Client, ttl time.Duration) *RedisBoardCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisBoardCache{client: client, prefix: "board:", ttl: ttl}
}

func (c *RedisBoardCache) key(facilityID string) string {
	return c.prefix + facilityID
}

// Get returns the cached snapshot for the facility, if present.
func (c *RedisBoardCache) Get(ctx context.Context, facilityID string) (*domain.BoardSnapshot, bool, error) {
	raw, err := c.client.Get(ctx, c.key(facilityID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("board cache get: %w", err)
	}

	var snap domain.BoardSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, false, fmt.Errorf("board cache decode: %w", err)
	}
	return &snap, true, nil
}

// Set stores the snapshot under the facility key with the cache TTL.
func (c *RedisBoardCache) Set(ctx context.Context, snap *domain.BoardSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("board cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.key(snap.FacilityID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("board cache set: %w", err)
	}
	return nil
}

// Invalidate drops the facility's cached snapshot.
func (c *RedisBoardCache) Invalidate(ctx context.Context, facilityID string) error {
	if err := c.client.Del(ctx, c.key(facilityID)).Err(); err != nil {
		return fmt.Errorf("board cache invalidate: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (c *RedisBoardCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *RedisBoardCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
