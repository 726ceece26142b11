// Package kv wraps the Redis client that backs every cross-process concern
// of the core: the burst buffer (expiring keys), the dispatch queue (sorted
// sets), delivery notifications (pub/sub), and REST idempotency records.
//
// The client is an explicitly constructed, injected dependency with a defined
// startup/shutdown lifecycle; nothing in this repository reaches for a
// process-global connection.
package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Client is a thin lifecycle wrapper around go-redis. The typed helpers cover
// the single-key expiring-store operations; components that need richer
// primitives (sorted sets, pub/sub) take the underlying *redis.Client.
type Client struct {
	rdb *redis.Client
}

// Open connects to Redis and verifies the connection with a ping.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &Client{rdb: rdb}, nil
}

// Redis exposes the underlying client for queue and pub/sub components.
func (c *Client) Redis() *redis.Client { return c.rdb }

// Close releases the connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// Ping verifies the connection; used by health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Get reads a string value. The second return value reports presence; a
// missing key is not an error.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set writes a string value with a TTL. A zero ttl stores without expiry.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// SetNX writes value only when key is absent. Reports whether the write won.
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Del removes the given keys and returns how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	return c.rdb.Del(ctx, keys...).Result()
}
