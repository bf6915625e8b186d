// Package cache provides Redis-backed caching for candle history with
// graceful degradation. When Redis is unavailable, operations return
// errors that callers handle by fetching from the broker directly.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"forex-trading-bot/internal/broker"
)

// ErrMiss is returned when a key is not present in the cache.
var ErrMiss = errors.New("cache miss")

// Candle key layout: instrument, granularity, unix range bounds.
const prefixCandleRange = "candles:%s:%s:%d-%d"

// DefaultHistoryTTL bounds cached range entries. Closed historical
// ranges never change, so the TTL only caps memory, not staleness.
const DefaultHistoryTTL = 24 * time.Hour

// Cache wraps a Redis client with a failure-count circuit breaker.
type Cache struct {
	client       *redis.Client
	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// Config holds Redis connection settings.
type Config struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// New connects to Redis. A failed initial connection returns the cache
// in degraded mode rather than an error so the engine can start without
// Redis and recover later.
func New(cfg Config) (*Cache, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	c := &Cache{
		client:        client,
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("address", cfg.Address).Msg("redis unavailable, cache degraded")
		return c, nil
	}

	c.healthy = true
	c.lastCheck = time.Now()
	log.Info().Str("address", cfg.Address).Msg("redis connected")

	return c, nil
}

// IsHealthy reports whether Redis is currently usable.
func (c *Cache) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

func (c *Cache) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCount++
	if c.failureCount >= c.maxFailures {
		if c.healthy {
			log.Warn().Int("failures", c.failureCount).Msg("redis marked unhealthy")
		}
		c.healthy = false
	}
}

func (c *Cache) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.healthy {
		log.Info().Msg("redis recovered")
	}
	c.healthy = true
	c.failureCount = 0
	c.lastCheck = time.Now()
}

// checkHealth schedules a background ping when the cache has been
// unhealthy longer than the check interval.
func (c *Cache) checkHealth() {
	c.mu.RLock()
	shouldCheck := !c.healthy && time.Since(c.lastCheck) >= c.checkInterval
	c.mu.RUnlock()

	if !shouldCheck {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := c.client.Ping(ctx).Err(); err == nil {
			c.recordSuccess()
		}
	}()
}

// GetCandles fetches a cached candle series. A missing key returns
// ErrMiss so callers can distinguish misses from Redis failures.
func (c *Cache) GetCandles(ctx context.Context, key string) ([]broker.Candle, error) {
	c.checkHealth()

	if !c.IsHealthy() {
		return nil, fmt.Errorf("redis unavailable")
	}

	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		c.recordFailure()
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	c.recordSuccess()

	var candles []broker.Candle
	if err := json.Unmarshal([]byte(data), &candles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached candles: %w", err)
	}
	return candles, nil
}

// SetCandles stores a candle series under the key with the given TTL.
func (c *Cache) SetCandles(ctx context.Context, key string, candles []broker.Candle, ttl time.Duration) error {
	c.checkHealth()

	if !c.IsHealthy() {
		return fmt.Errorf("redis unavailable")
	}

	data, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("failed to marshal candles: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}

	c.recordSuccess()
	return nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// RangeKey builds the key for a fixed historical range.
func RangeKey(instrument string, granularity broker.Granularity, start, end time.Time) string {
	return fmt.Sprintf(prefixCandleRange, instrument, granularity, start.Unix(), end.Unix())
}
