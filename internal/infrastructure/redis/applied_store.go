package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	appliedKeyPrefix = "applied:"
	// appliedTTL bounds the dedup set; redeliveries arrive well within it.
	appliedTTL = 7 * 24 * time.Hour
)

// AppliedStore keeps delivery-id markers in Redis so dedup survives process
// restarts.
type AppliedStore struct {
	client *redis.Client
}

func NewAppliedStore(client *redis.Client) *AppliedStore {
	return &AppliedStore{client: client}
}

func (s *AppliedStore) Seen(ctx context.Context, deliveryID string) (bool, error) {
	n, err := s.client.Exists(ctx, appliedKeyPrefix+deliveryID).Result()
	if err != nil {
		return false, fmt.Errorf("redis: dedup exists: %w", err)
	}
	return n > 0, nil
}

func (s *AppliedStore) Record(ctx context.Context, deliveryID string) error {
	if err := s.client.Set(ctx, appliedKeyPrefix+deliveryID, 1, appliedTTL).Err(); err != nil {
		return fmt.Errorf("redis: dedup record: %w", err)
	}
	return nil
}
