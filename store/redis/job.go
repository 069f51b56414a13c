package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/job"
)

// EnqueueJob stores the job as a Hash and adds it to the queue's Sorted Set.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	// Check for duplicate.
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("payrun/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return payrun.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	pipe.ZAdd(ctx, queueKey(j.Queue), goredis.Z{Score: jobScore(j.RunAt), Member: jID})

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("payrun/redis: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit due jobs from the given
// queues. A range query up to "now" yields only jobs whose RunAt has
// passed, which is how the retry ladder's staged delays are realized;
// ZRem is the claim, so concurrent dequeuers never double-take a job.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	now := time.Now().UTC()
	maxScore := strconv.FormatFloat(jobScore(now), 'f', -1, 64)
	var jobs []*job.Job

	for _, q := range queues {
		if len(jobs) >= limit {
			break
		}
		remaining := limit - len(jobs)
		qk := queueKey(q)

		members, err := s.client.ZRangeByScore(ctx, qk, &goredis.ZRangeBy{
			Min:   "-inf",
			Max:   maxScore,
			Count: int64(remaining),
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("payrun/redis: dequeue range: %w", err)
		}

		for _, jID := range members {
			// ZRem returning 1 means we won the claim.
			removed, remErr := s.client.ZRem(ctx, qk, jID).Result()
			if remErr != nil {
				return nil, fmt.Errorf("payrun/redis: dequeue claim: %w", remErr)
			}
			if removed == 0 {
				continue
			}

			key := jobKey(jID)
			if _, hErr := s.client.HSet(ctx, key,
				"state", string(job.StateRunning),
				"started_at", now.Format(time.RFC3339Nano),
				"updated_at", now.Format(time.RFC3339Nano),
			).Result(); hErr != nil {
				return nil, fmt.Errorf("payrun/redis: dequeue update: %w", hErr)
			}

			j, getErr := s.getJobByKey(ctx, key)
			if getErr != nil {
				return nil, getErr
			}
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// UpdateJob persists changes to an existing job and re-syncs the
// queue's sorted set: a pending or retrying job is (re)scheduled at its
// RunAt, any other state leaves the queue.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("payrun/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return payrun.ErrJobNotFound
	}

	fields := jobToMap(j)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	switch j.State {
	case job.StatePending, job.StateRetrying:
		pipe.ZAdd(ctx, queueKey(j.Queue), goredis.Z{Score: jobScore(j.RunAt), Member: jID})
	default:
		pipe.ZRem(ctx, queueKey(j.Queue), jID)
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("payrun/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	// Get queue name before deleting to remove from sorted set.
	q, err := s.client.HGet(ctx, key, "queue").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return payrun.ErrJobNotFound
		}
		return fmt.Errorf("payrun/redis: delete job get queue: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.ZRem(ctx, queueKey(q), jID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("payrun/redis: delete job: %w", err)
	}
	return nil
}

// ListJobsByState returns jobs matching the given state.
// An empty state matches all states.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("payrun/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if state != "" && j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.TenantID != "" && j.TenantID != opts.TenantID {
			continue
		}
		if !opts.RunID.IsNil() && j.RunID != opts.RunID {
			continue
		}
		jobs = append(jobs, j)
	}

	// Apply offset/limit.
	if opts.Offset > 0 && opts.Offset < len(jobs) {
		jobs = jobs[opts.Offset:]
	} else if opts.Offset >= len(jobs) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	key := jobKey(jobID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("payrun/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return payrun.ErrJobNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.HSet(ctx, key,
		"heartbeat_at", now,
		"worker_id", workerID.String(),
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("payrun/redis: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than the threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("payrun/redis: reap smembers: %w", err)
	}

	var stale []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.State != job.StateRunning {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("payrun/redis: count smembers: %w", err)
	}

	var count int64
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.TenantID != "" && j.TenantID != opts.TenantID {
			continue
		}
		count++
	}
	return count, nil
}

// ── helpers ──

// jobScore is the sorted-set score: the job's eligible run time in
// Unix millis. Due jobs are exactly the members scoring at or below
// "now". Priority ordering is not honored by this backend.
func jobScore(runAt time.Time) float64 {
	return float64(runAt.UnixMilli())
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":           j.ID.String(),
		"name":         j.Name,
		"queue":        j.Queue,
		"tenant_id":    j.TenantID,
		"run_id":       j.RunID.String(),
		"member_id":    j.MemberID,
		"payload":      string(j.Payload),
		"state":        string(j.State),
		"priority":     strconv.Itoa(j.Priority),
		"attempt":      strconv.Itoa(j.Attempt),
		"max_attempts": strconv.Itoa(j.MaxAttempts),
		"last_error":   j.LastError,
		"worker_id":    j.WorkerID.String(),
		"run_at":       j.RunAt.Format(time.RFC3339Nano),
		"timeout":      strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":   j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = j.HeartbeatAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("payrun/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, payrun.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("payrun/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])           //nolint:errcheck // best-effort parse from trusted Redis data
	attempt, _ := strconv.Atoi(m["attempt"])             //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])    //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: payrun.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:          jID,
		Name:        m["name"],
		Queue:       m["queue"],
		TenantID:    m["tenant_id"],
		MemberID:    m["member_id"],
		Payload:     []byte(m["payload"]),
		State:       job.State(m["state"]),
		Priority:    priority,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		LastError:   m["last_error"],
		RunAt:       runAt,
		Timeout:     time.Duration(timeout),
	}

	if rid := m["run_id"]; rid != "" {
		j.RunID, _ = id.ParseRunID(rid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.CompletedAt = &t
	}
	if v := m["heartbeat_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.HeartbeatAt = &t
	}

	return j, nil
}

// marshalJSON is a helper to marshal to JSON string.
func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for basic types
	return string(b)
}

// unmarshalStrings parses a JSON array of strings.
func unmarshalStrings(s string) []string {
	if s == "" || s == "null" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}

// unmarshalMap parses a JSON map.
func unmarshalMap(s string) map[string]string {
	if s == "" || s == "null" {
		return nil
	}
	out := make(map[string]string)
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}
