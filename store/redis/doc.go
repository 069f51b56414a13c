// Package redis implements the queue-shaped store interfaces (jobs,
// dead letters, inbox markers, cluster membership) on Redis. Jobs use
// Sorted Sets scored by eligible run time, so the retry ladder's staged
// delays fall out of a range query; entities are stored as Hashes.
//
// The caller owns the Redis client lifecycle -- this package never
// closes it:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
//
// Run and outbox state are not served here; they need multi-row
// transactions and live in the postgres or memory backends.
package redis
