package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/regbridge/subtrack/internal/core/domain"
)

const deadLetterRetention = 30 * 24 * time.Hour

// DeadLetterStore parks permanently failed deliveries in Redis for
// operator remediation.
type DeadLetterStore struct {
	rdb *redis.Client
}

// NewDeadLetterStore creates a new Redis-backed dead-letter store.
func NewDeadLetterStore(client *Client) *DeadLetterStore {
	return &DeadLetterStore{rdb: client.rdb}
}

// Key helpers
func (s *DeadLetterStore) queueKey() string {
	return "dead_letters"
}

func (s *DeadLetterStore) entryKey(itemID string) string {
	return fmt.Sprintf("dead_letter:%s", itemID)
}

// Add parks a failed delivery.
func (s *DeadLetterStore) Add(ctx context.Context, dl *domain.DeadLetter) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	if err := s.rdb.Set(ctx, s.entryKey(dl.ItemID), data, deadLetterRetention).Err(); err != nil {
		return fmt.Errorf("failed to set dead letter: %w", err)
	}

	// Sorted set ordered by failure time so List pages oldest-first.
	if err := s.rdb.ZAdd(ctx, s.queueKey(), redis.Z{
		Score:  float64(dl.FailedAt.Unix()),
		Member: dl.ItemID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to dead-letter queue: %w", err)
	}

	return nil
}

// List returns up to limit dead letters, oldest first.
func (s *DeadLetterStore) List(ctx context.Context, limit int) ([]*domain.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}

	ids, err := s.rdb.ZRange(ctx, s.queueKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	letters := make([]*domain.DeadLetter, 0, len(ids))
	for _, id := range ids {
		data, err := s.rdb.Get(ctx, s.entryKey(id)).Bytes()
		if err == redis.Nil {
			// Entry expired but ID still in queue, remove it.
			s.rdb.ZRem(ctx, s.queueKey(), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get dead letter: %w", err)
		}

		var dl domain.DeadLetter
		if err := json.Unmarshal(data, &dl); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
		}
		letters = append(letters, &dl)
	}
	return letters, nil
}

// Get retrieves one dead letter by delivery item ID.
func (s *DeadLetterStore) Get(ctx context.Context, itemID string) (*domain.DeadLetter, error) {
	data, err := s.rdb.Get(ctx, s.entryKey(itemID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}

	var dl domain.DeadLetter
	if err := json.Unmarshal(data, &dl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	return &dl, nil
}

// Remove deletes a dead letter (after a successful requeue).
func (s *DeadLetterStore) Remove(ctx context.Context, itemID string) error {
	if err := s.rdb.ZRem(ctx, s.queueKey(), itemID).Err(); err != nil {
		return fmt.Errorf("failed to remove from queue: %w", err)
	}
	if err := s.rdb.Del(ctx, s.entryKey(itemID)).Err(); err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}
	return nil
}

// Count returns the dead-letter queue depth.
func (s *DeadLetterStore) Count(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, s.queueKey()).Result()
}
