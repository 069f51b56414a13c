package backoff

import "time"

// Ladder is a staged retry schedule: attempt n (1-indexed) that fails
// is retried after Stages[n-1]; attempts past the last stage clamp to
// it. A job whose attempt count exceeds len(Stages) has exhausted the
// ladder and belongs in the DLQ.
type Ladder struct {
	Stages []time.Duration
}

// NewLadder creates a ladder from explicit stages.
func NewLadder(stages ...time.Duration) *Ladder {
	return &Ladder{Stages: stages}
}

// DefaultLadder returns the standard item-retry ladder:
// 30s, 1m, 2m, 5m, 10m, 20m, 40m.
func DefaultLadder() *Ladder {
	return NewLadder(
		30*time.Second,
		1*time.Minute,
		2*time.Minute,
		5*time.Minute,
		10*time.Minute,
		20*time.Minute,
		40*time.Minute,
	)
}

// Delay returns the delay for retrying after failed attempt n,
// clamping past the last stage. Implements Strategy.
func (l *Ladder) Delay(attempt int) time.Duration {
	if len(l.Stages) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(l.Stages) {
		attempt = len(l.Stages)
	}
	return l.Stages[attempt-1]
}

// Exhausted reports whether a job that has failed on the given attempt
// (1-indexed) has no stages left: the first execution plus one retry
// per stage have all been consumed.
func (l *Ladder) Exhausted(attempt int) bool {
	return attempt > len(l.Stages)
}

// MaxAttempts returns the total number of executions the ladder
// permits: the initial attempt plus one retry per stage.
func (l *Ladder) MaxAttempts() int {
	return len(l.Stages) + 1
}
