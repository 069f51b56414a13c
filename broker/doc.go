// Package broker provides the in-process event broker used as the
// default outbox relay publisher.
//
// The broker delivers events to consumers subscribed to the event's
// Destination. Delivery order is guaranteed per PartitionKey: each
// (destination, key) pair gets a dedicated FIFO goroutine, so events
// for one pay run arrive in publish order while different runs are
// delivered concurrently.
//
//	b := broker.New(logger)
//	b.Subscribe("payrun.events", broker.NewInboxConsumer(
//	    "ledger-export", inboxStore,
//	    func(ctx context.Context, e *outbox.Event) error {
//	        return export(ctx, e.Payload)
//	    },
//	))
//
// Wire it into the relay as the publisher for both destination kinds:
//
//	publishers := map[outbox.Kind]outbox.Publisher{
//	    outbox.KindLogTopic:      b,
//	    outbox.KindQueueExchange: b,
//	}
//
// For external delivery use the broker/redis adapters: Redis Streams
// for LOG_TOPIC destinations and Redis lists for QUEUE_EXCHANGE.
package broker
