// Package redis holds the connection shared by the realtime fan-out and the
// recording job queue.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client wraps the go-redis client with the process logger.
type Client struct {
	*redis.Client
	logger *zap.Logger
}

// NewClient connects and verifies the server answers.
func NewClient(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	c := &Client{Client: rdb, logger: logger.With(zap.String("redis_addr", addr), zap.Int("redis_db", db))}
	if err := c.Healthy(ctx, 5*time.Second); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	c.logger.Info("redis connected")
	return c, nil
}

// Healthy pings the server within timeout.
func (c *Client) Healthy(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the connection, logging rather than returning a failure.
func (c *Client) Close() error {
	if err := c.Client.Close(); err != nil {
		c.logger.Warn("redis close", zap.Error(err))
		return err
	}
	return nil
}
