// Package cache provides a read-through Redis cache for session snapshots
// and available-number sets. The durable store stays the source of truth;
// every covered write invalidates its entry synchronously, and entries
// carry a short TTL so a missed invalidation self-heals.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"game-session-engine/internal/model"
)

const (
	sessionKeyPrefix = "session:"
	numbersKeyPrefix = "numbers:"
)

// ErrMiss is returned when the cache has no entry for the key.
var ErrMiss = errors.New("cache miss")

// Config holds configuration for the Redis cache.
type Config struct {
	// Redis client
	Client *redis.Client

	// TTL bounds the staleness window of every entry.
	TTL time.Duration
}

// Cache is a Redis-backed cache layer.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a Redis-backed cache.
func New(cfg *Config) (*Cache, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.Client == nil {
		return nil, errors.New("redis client cannot be nil")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}

	if err := cfg.Client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: cfg.Client, ttl: ttl}, nil
}

// GetSession returns the cached session snapshot, or ErrMiss.
func (c *Cache) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	data, err := c.client.Get(ctx, sessionKeyPrefix+sessionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to get session from cache: %w", err)
	}

	var session model.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached session: %w", err)
	}
	return &session, nil
}

// SetSession stores a session snapshot with the configured TTL.
func (c *Cache) SetSession(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := c.client.Set(ctx, sessionKeyPrefix+session.ID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache session: %w", err)
	}
	return nil
}

// InvalidateSession drops the session snapshot.
func (c *Cache) InvalidateSession(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, sessionKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	return nil
}

// GetAvailableNumbers returns the cached set of unclaimed numbers, or ErrMiss.
func (c *Cache) GetAvailableNumbers(ctx context.Context, sessionID string) ([]int, error) {
	data, err := c.client.Get(ctx, numbersKeyPrefix+sessionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to get numbers from cache: %w", err)
	}

	var numbers []int
	if err := json.Unmarshal([]byte(data), &numbers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached numbers: %w", err)
	}
	return numbers, nil
}

// SetAvailableNumbers stores the unclaimed-number set with the configured TTL.
func (c *Cache) SetAvailableNumbers(ctx context.Context, sessionID string, numbers []int) error {
	data, err := json.Marshal(numbers)
	if err != nil {
		return fmt.Errorf("failed to marshal numbers: %w", err)
	}
	if err := c.client.Set(ctx, numbersKeyPrefix+sessionID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache numbers: %w", err)
	}
	return nil
}

// InvalidateAvailableNumbers drops the number set for a session.
func (c *Cache) InvalidateAvailableNumbers(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, numbersKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("failed to invalidate numbers: %w", err)
	}
	return nil
}

// InvalidateAll drops every entry the cache holds for a session.
func (c *Cache) InvalidateAll(ctx context.Context, sessionID string) error {
	pipe := c.client.Pipeline()
	pipe.Del(ctx, sessionKeyPrefix+sessionID)
	pipe.Del(ctx, numbersKeyPrefix+sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to invalidate session entries: %w", err)
	}
	return nil
}
