// Package redis provides outbox publish adapters backed by Redis:
// Streams for LOG_TOPIC destinations and lists for QUEUE_EXCHANGE
// destinations.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	publishers := map[outbox.Kind]outbox.Publisher{
//	    outbox.KindLogTopic:      redisbroker.NewStreamPublisher(client),
//	    outbox.KindQueueExchange: redisbroker.NewQueuePublisher(client),
//	}
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/payflux/payrun/outbox"
)

// Compile-time interface checks.
var (
	_ outbox.Publisher = (*StreamPublisher)(nil)
	_ outbox.Publisher = (*QueuePublisher)(nil)
)

// DefaultMaxLen caps stream length (approximate trim) so unconsumed
// streams do not grow without bound.
const DefaultMaxLen = 100_000

// StreamPublisher publishes LOG_TOPIC events with XADD. The event's
// Destination is the stream key; PartitionKey rides along as a field so
// consumers can re-shard, and ordering within the stream follows the
// relay's per-key publish order.
type StreamPublisher struct {
	client redis.Cmdable
	maxLen int64
}

// StreamOption configures a StreamPublisher.
type StreamOption func(*StreamPublisher)

// WithMaxLen sets the approximate stream length cap. Zero disables
// trimming.
func WithMaxLen(n int64) StreamOption {
	return func(p *StreamPublisher) { p.maxLen = n }
}

// NewStreamPublisher creates a Redis Streams publisher. The caller owns
// the Redis client lifecycle.
func NewStreamPublisher(client redis.Cmdable, opts ...StreamOption) *StreamPublisher {
	p := &StreamPublisher{client: client, maxLen: DefaultMaxLen}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Publish implements outbox.Publisher.
func (p *StreamPublisher) Publish(ctx context.Context, e *outbox.Event) error {
	values := map[string]any{
		"event_id":      e.EventID,
		"type":          e.Type,
		"partition_key": e.PartitionKey,
		"aggregate_id":  e.AggregateID,
		"tenant_id":     e.TenantID,
		"payload":       string(e.Payload),
	}
	for k, v := range e.Headers {
		values["header:"+k] = v
	}

	args := &redis.XAddArgs{
		Stream: e.Destination,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis stream publish %s: %w", e.Destination, err)
	}
	return nil
}

// QueuePublisher publishes QUEUE_EXCHANGE events with LPUSH, treating
// each (destination, routing key) pair as one Redis list consumed with
// BRPOP. The whole event envelope is stored as JSON.
type QueuePublisher struct {
	client redis.Cmdable
}

// NewQueuePublisher creates a Redis list publisher. The caller owns the
// Redis client lifecycle.
func NewQueuePublisher(client redis.Cmdable) *QueuePublisher {
	return &QueuePublisher{client: client}
}

// QueueKey returns the list key for a destination and routing key.
func QueueKey(destination, routingKey string) string {
	if routingKey == "" {
		return destination
	}
	return destination + ":" + routingKey
}

// Publish implements outbox.Publisher.
func (p *QueuePublisher) Publish(ctx context.Context, e *outbox.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis queue marshal %s: %w", e.EventID, err)
	}

	key := QueueKey(e.Destination, e.RoutingKey)
	if err := p.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("redis queue publish %s: %w", key, err)
	}
	return nil
}
