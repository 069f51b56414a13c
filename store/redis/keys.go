package redis

// Redis key naming conventions for payrun data.
// All keys are prefixed with "payrun:" to avoid collisions.

const keyPrefix = "payrun:"

// ── Job keys ──

// jobKey returns the key for a job entity: payrun:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// queueKey returns the Sorted Set key for a queue: payrun:queue:{name}
// Members are job IDs scored by eligible run time (Unix millis), so a
// range query up to "now" yields exactly the due jobs.
func queueKey(name string) string { return keyPrefix + "queue:" + name }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry entity: payrun:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all DLQ entry IDs for enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"

// ── Inbox keys ──

// inboxKey returns the first-claim marker key for a consumer/event
// pair: payrun:inbox:{consumer}:{eventID}
func inboxKey(consumer, eventID string) string {
	return keyPrefix + "inbox:" + consumer + ":" + eventID
}

// ── Cluster keys ──

// workerKey returns the key for a worker entity: payrun:worker:{id}
func workerKey(id string) string { return keyPrefix + "worker:" + id }

// workerIDsKey is the Set tracking all worker IDs for enumeration.
const workerIDsKey = keyPrefix + "worker_ids"

// leaderKey stores the current leader worker ID.
const leaderKey = keyPrefix + "leader"
