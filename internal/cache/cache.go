/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache mirrors the live state document and the zone resolution
// table into Redis so dashboards and sibling appliances can read them
// without touching the appliance database. The mirror is optional: when
// Redis is unreachable the appliance runs exactly as before.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/hermod_pa/internal/models"
)

// Default TTL values for mirrored documents.
const (
	DefaultStateTTL     = 5 * time.Minute
	DefaultZoneTableTTL = 1 * time.Hour
)

// Redis key layout.
const (
	KeyState     = "hermod:cache:state"
	KeyZoneTable = "hermod:cache:zones"
	keyPrefix    = "hermod:cache:"
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	StateTTL     time.Duration
	ZoneTableTTL time.Duration

	// DisableOnError trips the circuit breaker on the first Redis error
	// instead of retrying every publish.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		StateTTL:       DefaultStateTTL,
		ZoneTableTTL:   DefaultZoneTableTTL,
		DisableOnError: true,
	}
}

// Cache provides the Redis-backed mirror with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // circuit breaker state
}

// New creates a cache instance. An unreachable Redis does not fail
// construction; the mirror comes up disabled and the appliance keeps
// broadcasting.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}
	if cfg.ZoneTableTTL <= 0 {
		cfg.ZoneTableTTL = DefaultZoneTableTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, state mirror disabled")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis state mirror initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the mirror is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling state mirror due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern via SCAN.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// State mirror

// MirrorState pushes the state document into Redis. Failures degrade the
// mirror, never the publish path; the publisher calls this fire-and-forget.
func (c *Cache) MirrorState(ctx context.Context, st *models.SystemState) {
	if st == nil {
		return
	}
	if err := c.set(ctx, KeyState, st, c.config.StateTTL); err != nil {
		return
	}
	c.logger.Debug().Str("mode", string(st.Mode)).Msg("state mirrored")
}

// CurrentState reads the mirrored state document.
func (c *Cache) CurrentState(ctx context.Context) (*models.SystemState, bool) {
	var st models.SystemState
	found, err := c.get(ctx, KeyState, &st)
	if err != nil || !found {
		return nil, false
	}
	return &st, true
}

// InvalidateState removes the mirrored state document.
func (c *Cache) InvalidateState(ctx context.Context) error {
	return c.delete(ctx, KeyState)
}

// Zone table mirror

// CachedZoneTarget is one resolved output behind a zone name.
type CachedZoneTarget struct {
	Device  int    `json:"device"`
	Channel string `json:"channel,omitempty"`
}

// SetZoneTable mirrors the zone resolution table.
func (c *Cache) SetZoneTable(ctx context.Context, table map[string][]CachedZoneTarget) error {
	c.logger.Debug().Int("zones", len(table)).Msg("caching zone table")
	return c.set(ctx, KeyZoneTable, table, c.config.ZoneTableTTL)
}

// GetZoneTable retrieves the mirrored zone resolution table.
func (c *Cache) GetZoneTable(ctx context.Context) (map[string][]CachedZoneTarget, bool) {
	var table map[string][]CachedZoneTarget
	found, err := c.get(ctx, KeyZoneTable, &table)
	if err != nil || !found {
		return nil, false
	}
	return table, true
}

// InvalidateZoneTable removes the mirrored zone table.
func (c *Cache) InvalidateZoneTable(ctx context.Context) error {
	return c.delete(ctx, KeyZoneTable)
}

// FlushAll removes every mirrored document (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all mirrored data")
	return c.deletePattern(ctx, keyPrefix+"*")
}
