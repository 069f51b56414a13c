package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/dlq"
	"github.com/payflux/payrun/id"
)

// PushDLQ adds a failed job entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, dlqKey(eID), dlqToMap(entry))
	pipe.SAdd(ctx, dlqIDsKey, eID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("payrun/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, oldest failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("payrun/redis: list dlq smembers: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		e, getErr := s.getDLQByKey(ctx, dlqKey(eID))
		if getErr != nil {
			continue // skip missing
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		if opts.TenantID != "" && e.TenantID != opts.TenantID {
			continue
		}
		if !opts.RunID.IsNil() && e.RunID != opts.RunID {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].FailedAt.Before(entries[j].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.getDLQByKey(ctx, dlqKey(entryID.String()))
}

// ReplayDLQ marks a DLQ entry as replayed. The actual re-enqueue is
// handled at the service layer.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	key := dlqKey(entryID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("payrun/redis: replay dlq exists: %w", err)
	}
	if exists == 0 {
		return payrun.ErrEntryNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.HSet(ctx, key, "replayed_at", now).Result()
	if err != nil {
		return fmt.Errorf("payrun/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("payrun/redis: purge dlq smembers: %w", err)
	}

	var removed int64
	for _, eID := range ids {
		e, getErr := s.getDLQByKey(ctx, dlqKey(eID))
		if getErr != nil {
			continue
		}
		if !e.FailedAt.Before(before) {
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, dlqKey(eID))
		pipe.SRem(ctx, dlqIDsKey, eID)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return removed, fmt.Errorf("payrun/redis: purge dlq: %w", pErr)
		}
		removed++
	}
	return removed, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.SCard(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("payrun/redis: count dlq: %w", err)
	}
	return count, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) map[string]interface{} {
	m := map[string]interface{}{
		"id":           e.ID.String(),
		"job_id":       e.JobID.String(),
		"job_name":     e.JobName,
		"queue":        e.Queue,
		"tenant_id":    e.TenantID,
		"run_id":       e.RunID.String(),
		"member_id":    e.MemberID,
		"payload":      string(e.Payload),
		"error":        e.Error,
		"attempt":      strconv.Itoa(e.Attempt),
		"max_attempts": strconv.Itoa(e.MaxAttempts),
		"failed_at":    e.FailedAt.Format(time.RFC3339Nano),
		"created_at":   e.CreatedAt.Format(time.RFC3339Nano),
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = e.ReplayedAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getDLQByKey(ctx context.Context, key string) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, payrun.ErrEntryNotFound
		}
		return nil, fmt.Errorf("payrun/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, payrun.ErrEntryNotFound
	}
	return mapToDLQ(vals)
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("payrun/redis: parse dlq id: %w", err)
	}

	attempt, _ := strconv.Atoi(m["attempt"])          //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"]) //nolint:errcheck // best-effort parse from trusted Redis data

	failedAt, _ := time.Parse(time.RFC3339Nano, m["failed_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &dlq.Entry{
		ID:          eID,
		JobName:     m["job_name"],
		Queue:       m["queue"],
		TenantID:    m["tenant_id"],
		MemberID:    m["member_id"],
		Payload:     []byte(m["payload"]),
		Error:       m["error"],
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		FailedAt:    failedAt,
		CreatedAt:   createdAt,
	}

	if jid := m["job_id"]; jid != "" {
		e.JobID, _ = id.ParseJobID(jid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if rid := m["run_id"]; rid != "" {
		e.RunID, _ = id.ParseRunID(rid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["replayed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.ReplayedAt = &t
	}

	return e, nil
}
