// Package run defines the pay-run state machine: the Run and Item
// entities, their status transitions, and the Store contract that
// backends implement.
//
// A [Run] is a batch of member items finalized together. Its status is
// monotonic: QUEUED or RUNNING, then exactly one terminal status.
// Cross-process mutual exclusion uses a database lease — a conditional
// update that names the owner and an expiry; a crashed coordinator's
// lease simply expires and any worker may re-claim it.
package run
