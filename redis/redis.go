// Package redis provides the shared Redis client used for cross-instance
// rate limit counters.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis client with mvdocs-specific operations.
type Client struct {
	rdb    *redis.Client
	prefix string // Key prefix for namespacing
}

// Config holds Redis connection settings.
type Config struct {
	Addr     string // host:port
	Password string
	DB       int
	Prefix   string // Key prefix (default: "mvdocs:")
}

// incrWindow increments a counter and arms its expiry on first use.
var incrWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// New creates a new Redis client.
func New(cfg Config) (*Client, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "mvdocs:"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:    rdb,
		prefix: cfg.Prefix,
	}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// key prefixes a key with the namespace.
func (c *Client) key(k string) string {
	return c.prefix + k
}

// IncrWindow increments the counter for key and returns the new count.
// The counter expires window after its first increment.
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	ms := window.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	n, err := incrWindow.Run(ctx, c.rdb, []string{c.key("rl:" + key)}, ms).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return n, nil
}
