// Package redis provides the cross-replica coordination primitives built on
// go-redis/v9: the (asset, venue) execution lock and the seen-post cache.
// Both are best-effort layers over the in-process guarantees; a single
// replica stays correct with Redis disabled entirely.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds the connection settings for the shared client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client owns the one go-redis connection pool shared by the lock manager
// and the seen cache.
type Client struct {
	rdb *redis.Client
}

// New dials Redis and verifies connectivity with a ping before handing the
// client out, so a bad address fails at startup rather than mid-trade.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying exposes the raw *redis.Client to the sibling files in this
// package that talk to the driver directly.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
