// Package cluster provides distributed worker coordination, leader
// election, and worker registration.
//
// When running multiple Payrun nodes, the cluster package coordinates
// which node is the leader (responsible for singleton background work
// such as outbox relaying and stale-job recovery) and which are
// followers.
//
// # Worker Entity
//
// Each running node registers itself as a [Worker] with:
//   - a unique [id.WorkerID]
//   - its hostname
//   - the list of queues it polls
//   - its concurrency limit
//   - a state: [WorkerActive], [WorkerDraining], or [WorkerDead]
//
// Workers send periodic heartbeats. If a heartbeat is not received within
// the configured threshold, the worker is considered dead and its in-flight
// jobs are eligible for reassignment.
//
// # Leader Election
//
// One worker at a time holds leadership. The leader:
//   - runs the outbox relay
//   - reclaims stale jobs from dead workers
//
// Leadership is managed by [Store.AcquireLeadership] using optimistic locking.
// If leadership is lost mid-operation, [payrun.ErrLeadershipLost] is returned.
package cluster
