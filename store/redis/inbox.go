package redis

import (
	"context"
	"fmt"
	"time"
)

// TryMarkProcessed inserts the (consumer, eventID) marker with SET NX,
// so exactly one concurrent caller wins the claim.
func (s *Store) TryMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, inboxKey(consumer, eventID),
		time.Now().UTC().Format(time.RFC3339Nano), 0).Result()
	if err != nil {
		return false, fmt.Errorf("payrun/redis: mark processed: %w", err)
	}
	return ok, nil
}

// Unmark removes the marker so a redelivery can claim it again.
// Removing a missing marker is a no-op.
func (s *Store) Unmark(ctx context.Context, consumer, eventID string) error {
	if err := s.client.Del(ctx, inboxKey(consumer, eventID)).Err(); err != nil {
		return fmt.Errorf("payrun/redis: unmark: %w", err)
	}
	return nil
}
