package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultEventPrefix = "coinvest:webhook:event:"

// EventStore remembers processed gateway event ids so webhook redeliveries short-circuit
// before touching the ledger. The ledger's own status guards stay authoritative.
type EventStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

func NewEventStore(client *redis.Client, keyPrefix string, ttl time.Duration) *EventStore {
	if keyPrefix == "" {
		keyPrefix = defaultEventPrefix
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &EventStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// MarkProcessed records the event. It reports false when the id was already recorded.
func (s *EventStore) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	if s == nil || s.client == nil || eventID == "" {
		return true, nil
	}
	ok, err := s.client.SetNX(ctx, s.keyPrefix+eventID, "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event as processed: %w", err)
	}
	return ok, nil
}

func (s *EventStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	if s == nil || s.client == nil || eventID == "" {
		return false, nil
	}
	n, err := s.client.Exists(ctx, s.keyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check if event is processed: %w", err)
	}
	return n > 0, nil
}
