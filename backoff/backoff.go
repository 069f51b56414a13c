// Package backoff provides the retry delay schedules used by the
// system: the staged Ladder that governs finalize-item job retries, and
// exponential strategies for rescheduling failed outbox publishes.
// All schedules are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt:
// min(Initial * 2^(attempt-1), Max). Deterministic, so tests can assert
// exact reschedule times.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return expDelay(e.Initial, e.Max, attempt)
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter draws a random delay in [0, exponential base].
// When a broker outage fails a whole claimed batch, jitter spreads the
// retries so the recovered broker is not hit by every event at once.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := expDelay(e.Initial, e.Max, attempt)
	return time.Duration(rand.Float64() * float64(base)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// expDelay computes min(initial * 2^(attempt-1), max).
func expDelay(initial, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(initial) * math.Pow(2, float64(attempt-1)))
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}

// DefaultPublishBackoff returns the relay's default reschedule
// strategy for failed publishes: full jitter over 1s..15m.
func DefaultPublishBackoff() Strategy {
	return NewExponentialWithJitter(1*time.Second, 15*time.Minute)
}
