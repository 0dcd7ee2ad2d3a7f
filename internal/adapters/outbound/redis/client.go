// Package redis provides Redis implementations of the status sink and the
// execution lock.
//
// Snapshots are stored under prefix:status and announced on the
// prefix:status:updates channel. The lock lives under prefix:lock and holds a
// random token so only its owner can release it.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// StatusTTL is how long a published snapshot lives without being refreshed
	StatusTTL time.Duration
	// WriteTimeout bounds each status write so publishing never stalls a cycle
	WriteTimeout time.Duration
	// KeyPrefix is prepended to all keys
	KeyPrefix string
}

// ConfigDefaults returns sensible defaults for Redis configuration.
func ConfigDefaults() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		StatusTTL:    5 * time.Minute,
		WriteTimeout: 2 * time.Second,
		KeyPrefix:    "liquidator",
	}
}

// Client wraps a go-redis client shared by the status sink and the lock.
type Client struct {
	rdb       *redis.Client
	cfg       Config
	keyPrefix string
	logger    *slog.Logger
}

// NewClient creates a new Redis client. It does not connect until first use.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	defaults := ConfigDefaults()
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = defaults.StatusTTL
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaults.KeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Client{
		rdb:       rdb,
		cfg:       cfg,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger,
	}, nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) statusKey() string {
	return c.keyPrefix + ":status"
}

// StatusChannel is the pub/sub channel snapshots are announced on.
func (c *Client) StatusChannel() string {
	return c.keyPrefix + ":status:updates"
}

func (c *Client) lockKey() string {
	return c.keyPrefix + ":lock"
}
