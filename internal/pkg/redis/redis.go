// Package redis owns the process-wide Redis connection shared by the
// task queue and the event bus.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client holds the shared connection.
type Client struct {
	rdb *redis.Client
}

// Connect dials the Redis URL and pings it before handing the client
// out, so a bad address fails at startup instead of on first use.
func Connect(url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Raw exposes the underlying client for pipelines and blocking pops.
func (c *Client) Raw() *redis.Client { return c.rdb }

// Publish sends a message to a pub/sub channel.
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) error {
	return c.rdb.Publish(ctx, channel, message).Err()
}

func (c *Client) Close() error { return c.rdb.Close() }
