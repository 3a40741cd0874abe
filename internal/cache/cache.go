// Package cache is the short-TTL result cache in front of the price store.
// It is a strict read-through: the coordinator writes rendered result lists
// after store reads, and background refreshes never touch it.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/comparador/price-search/internal/models"
)

const keyPrefix = "search:"

// Client wraps the process-wide Redis connection pool. It is created once at
// startup, injected into the coordinator and closed at shutdown.
type Client struct {
	rdb *redis.Client
}

// Connect creates the Redis client and verifies the connection.
func Connect(ctx context.Context, addr string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// NewFromRedis wraps an existing client. Used by tests with miniredis.
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping reports whether the cache is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key returns the cache key for a normalized query.
func Key(normalizedQuery string) string {
	return keyPrefix + normalizedQuery
}

// Get returns the cached result list for a normalized query. The second
// return value is false on a miss; a miss is indistinguishable from the query
// never having been cached. A corrupt entry is treated as a miss.
func (c *Client) Get(ctx context.Context, normalizedQuery string) ([]models.SearchResultItem, bool, error) {
	payload, err := c.rdb.Get(ctx, Key(normalizedQuery)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get for %q: %w", normalizedQuery, err)
	}

	var items []models.SearchResultItem
	if err := json.Unmarshal(payload, &items); err != nil {
		log.Warn().Err(err).Str("query", normalizedQuery).Msg("Discarding corrupt cache entry")
		return nil, false, nil
	}
	return items, true, nil
}

// Set overwrites the cached result list for a normalized query. Supersession
// is by full overwrite; freshness is the TTL alone.
func (c *Client) Set(ctx context.Context, normalizedQuery string, items []models.SearchResultItem, ttl time.Duration) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("cache encode for %q: %w", normalizedQuery, err)
	}
	if err := c.rdb.Set(ctx, Key(normalizedQuery), payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache set for %q: %w", normalizedQuery, err)
	}
	return nil
}
