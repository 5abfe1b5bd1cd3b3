package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FrequencyCounter enforces per-recipient, per-type notification caps with
// rolling one-hour windows.
type FrequencyCounter struct {
	rdb *redis.Client
}

// NewFrequencyCounter creates a new Redis-backed frequency counter.
func NewFrequencyCounter(client *Client) *FrequencyCounter {
	return &FrequencyCounter{rdb: client.rdb}
}

func (c *FrequencyCounter) key(recipientID, notifType string) string {
	return fmt.Sprintf("notify_count:%s:%s", recipientID, notifType)
}

// Increment bumps the hourly counter and returns the new count. The TTL is
// set on first increment only, so the window rolls from the first send.
func (c *FrequencyCounter) Increment(ctx context.Context, recipientID, notifType string) (int64, error) {
	key := c.key(recipientID, notifType)

	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr failed: %w", err)
	}
	if count == 1 {
		if err := c.rdb.Expire(ctx, key, time.Hour).Err(); err != nil {
			return count, fmt.Errorf("expire failed: %w", err)
		}
	}
	return count, nil
}

// Current returns the counter without incrementing.
func (c *FrequencyCounter) Current(ctx context.Context, recipientID, notifType string) (int64, error) {
	val, err := c.rdb.Get(ctx, c.key(recipientID, notifType)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get failed: %w", err)
	}
	return val, nil
}
