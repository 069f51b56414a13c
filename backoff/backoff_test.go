package backoff_test

import (
	"testing"
	"time"

	"github.com/payflux/payrun/backoff"
)

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(time.Second, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},  // 1 * 2^0
		{2, 2 * time.Second},  // 1 * 2^1
		{3, 4 * time.Second},  // 1 * 2^2
		{4, 8 * time.Second},  // 1 * 2^3
		{5, 16 * time.Second}, // 1 * 2^4
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	// Attempt 5 = 16s > 10s max.
	if got := e.Delay(5); got != 10*time.Second {
		t.Errorf("Delay(5) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
	if got := e.Delay(20); got != 10*time.Second {
		t.Errorf("Delay(20) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
}

func TestExponential_ClampsNonPositiveAttempt(t *testing.T) {
	e := backoff.NewExponential(time.Second, time.Hour)
	if got := e.Delay(0); got != time.Second {
		t.Errorf("Delay(0) = %v, want %v", got, time.Second)
	}
	if got := e.Delay(-3); got != time.Second {
		t.Errorf("Delay(-3) = %v, want %v", got, time.Second)
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 10*time.Second)

	for attempt := 1; attempt <= 5; attempt++ {
		maxDelay := 10 * time.Second // capped at Max

		for range 100 {
			got := e.Delay(attempt)
			if got < 0 {
				t.Errorf("Delay(%d) = %v, should be >= 0", attempt, got)
			}
			if got > maxDelay {
				t.Errorf("Delay(%d) = %v, should be <= %v", attempt, got, maxDelay)
			}
		}
	}
}

func TestExponentialWithJitter_ProducesVariance(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, time.Minute)

	seen := make(map[time.Duration]bool)
	for range 100 {
		d := e.Delay(3)
		seen[d] = true
	}

	if len(seen) < 2 {
		t.Errorf("expected variance in jitter, got only %d distinct values", len(seen))
	}
}

func TestDefaultPublishBackoff_Bounds(t *testing.T) {
	s := backoff.DefaultPublishBackoff()
	if s == nil {
		t.Fatal("DefaultPublishBackoff() returned nil")
	}

	if d := s.Delay(1); d < 0 || d > time.Second {
		t.Errorf("Delay(1) = %v, want within [0, 1s]", d)
	}
	// Far attempts stay under the 15m cap.
	if d := s.Delay(50); d < 0 || d > 15*time.Minute {
		t.Errorf("Delay(50) = %v, want within [0, 15m]", d)
	}
}
