package id

import (
	"strings"

	"github.com/google/uuid"
)

// eventNamespace is the fixed UUID namespace for deterministic event IDs.
// Changing it would change every derived event ID, breaking outbox and
// inbox deduplication across deployments.
var eventNamespace = uuid.MustParse("9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d")

// Deterministic derives a stable event ID from an event type and the
// business identifiers that make the event unique. The same inputs
// always produce the same ID, so repeated enqueue attempts for the same
// logical event collide on the outbox unique constraint and become
// no-ops, and consumers dedup redeliveries through the inbox.
func Deterministic(eventType string, parts ...string) string {
	name := eventType
	if len(parts) > 0 {
		name += ":" + strings.Join(parts, ":")
	}

	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}
