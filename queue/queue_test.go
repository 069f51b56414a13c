package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ──────────────────────────────────────────────────
// Manager basics
// ──────────────────────────────────────────────────

func TestNewManager_Empty(t *testing.T) {
	m := NewManager()
	// No configs; Acquire/Release always admit.
	if !m.Acquire("payrun.finalize.item", "") {
		t.Fatal("expected Acquire to succeed for unconfigured queue")
	}
	m.Release("payrun.finalize.item", "")
}

func TestManager_UnconfiguredQueue_AlwaysAdmits(t *testing.T) {
	m := NewManager(Config{
		Name:           "payrun.finalize.item",
		MaxConcurrency: 1,
	})

	// A queue with no config has no limits.
	for range 10 {
		if !m.Acquire("payrun.offcycle.item", "") {
			t.Fatal("unconfigured queue should always admit")
		}
	}
	for range 10 {
		m.Release("payrun.offcycle.item", "")
	}
}

// ──────────────────────────────────────────────────
// Concurrency limits
// ──────────────────────────────────────────────────

func TestManager_MaxConcurrency(t *testing.T) {
	m := NewManager(Config{
		Name:           "payrun.finalize.item",
		MaxConcurrency: 2,
	})

	if !m.Acquire("payrun.finalize.item", "") {
		t.Fatal("first Acquire should succeed")
	}
	if !m.Acquire("payrun.finalize.item", "") {
		t.Fatal("second Acquire should succeed")
	}
	if m.Acquire("payrun.finalize.item", "") {
		t.Fatal("third Acquire should fail (max concurrency 2)")
	}

	m.Release("payrun.finalize.item", "")
	if !m.Acquire("payrun.finalize.item", "") {
		t.Fatal("Acquire should succeed after Release")
	}
}

func TestManager_ActiveCountTracksAcquires(t *testing.T) {
	m := NewManager(Config{
		Name:           "payrun.finalize.item",
		MaxConcurrency: 5,
	})

	for i := range 3 {
		if !m.Acquire("payrun.finalize.item", "") {
			t.Fatalf("Acquire %d should succeed", i)
		}
	}
	if m.ActiveCount("payrun.finalize.item") != 3 {
		t.Fatalf("expected 3 active, got %d", m.ActiveCount("payrun.finalize.item"))
	}

	m.Release("payrun.finalize.item", "")
	m.Release("payrun.finalize.item", "")
	if m.ActiveCount("payrun.finalize.item") != 1 {
		t.Fatalf("expected 1 active, got %d", m.ActiveCount("payrun.finalize.item"))
	}
}

func TestManager_ReleaseUnderflow(t *testing.T) {
	m := NewManager(Config{
		Name:           "payrun.finalize.item",
		MaxConcurrency: 5,
	})

	// Release without Acquire must not go negative.
	m.Release("payrun.finalize.item", "")
	if m.ActiveCount("payrun.finalize.item") != 0 {
		t.Fatal("active count should not go below 0")
	}
}

// ──────────────────────────────────────────────────
// Rate limiting
// ──────────────────────────────────────────────────

func TestManager_RateLimitThrottles(t *testing.T) {
	m := NewManager(Config{
		Name:      "payrun.finalize.item",
		RateLimit: 1.0, // 1 per second
		RateBurst: 1,
	})

	if !m.Acquire("payrun.finalize.item", "") {
		t.Fatal("first Acquire should succeed (within burst)")
	}
	m.Release("payrun.finalize.item", "")

	// Token bucket is empty now.
	if m.Acquire("payrun.finalize.item", "") {
		t.Fatal("second Acquire should fail (rate limited)")
	}

	time.Sleep(1100 * time.Millisecond)
	if !m.Acquire("payrun.finalize.item", "") {
		t.Fatal("Acquire should succeed after token refill")
	}
	m.Release("payrun.finalize.item", "")
}

func TestManager_RateBurstAdmitsUpFront(t *testing.T) {
	m := NewManager(Config{
		Name:      "payrun.finalize.item",
		RateLimit: 10.0,
		RateBurst: 3,
	})

	for i := range 3 {
		if !m.Acquire("payrun.finalize.item", "") {
			t.Fatalf("Acquire %d should succeed (within burst)", i)
		}
		m.Release("payrun.finalize.item", "")
	}
}

// ──────────────────────────────────────────────────
// Per-tenant isolation
// ──────────────────────────────────────────────────

func TestManager_TenantLimitDoesNotBlockOthers(t *testing.T) {
	m := NewManager(Config{
		Name:           "payrun.finalize.item",
		MaxConcurrency: 100,
	})

	m.SetTenantConfig(TenantConfig{
		QueueName:      "payrun.finalize.item",
		TenantID:       "acme",
		MaxConcurrency: 1,
	})

	if !m.Acquire("payrun.finalize.item", "acme") {
		t.Fatal("acme first Acquire should succeed")
	}
	if m.Acquire("payrun.finalize.item", "acme") {
		t.Fatal("acme second Acquire should fail (tenant max 1)")
	}

	// An unlimited tenant is unaffected by acme's ceiling.
	if !m.Acquire("payrun.finalize.item", "globex") {
		t.Fatal("globex Acquire should succeed (no tenant limit)")
	}

	m.Release("payrun.finalize.item", "acme")
	m.Release("payrun.finalize.item", "globex")
}

func TestManager_TenantsAreIsolated(t *testing.T) {
	m := NewManager(Config{
		Name:           "payrun.finalize.item",
		MaxConcurrency: 100,
	})

	for _, tenant := range []string{"acme", "globex"} {
		m.SetTenantConfig(TenantConfig{
			QueueName:      "payrun.finalize.item",
			TenantID:       tenant,
			MaxConcurrency: 2,
		})
	}

	m.Acquire("payrun.finalize.item", "acme")
	m.Acquire("payrun.finalize.item", "acme")

	if m.Acquire("payrun.finalize.item", "acme") {
		t.Fatal("acme should be blocked at max concurrency")
	}
	if !m.Acquire("payrun.finalize.item", "globex") {
		t.Fatal("globex should not be affected by acme's limits")
	}

	m.Release("payrun.finalize.item", "acme")
	m.Release("payrun.finalize.item", "acme")
	m.Release("payrun.finalize.item", "globex")
}

func TestManager_TenantActiveCount(t *testing.T) {
	m := NewManager(Config{Name: "payrun.finalize.item", MaxConcurrency: 10})
	m.SetTenantConfig(TenantConfig{
		QueueName:      "payrun.finalize.item",
		TenantID:       "acme",
		MaxConcurrency: 5,
	})

	m.Acquire("payrun.finalize.item", "acme")
	m.Acquire("payrun.finalize.item", "acme")

	if got := m.TenantActiveCount("payrun.finalize.item", "acme"); got != 2 {
		t.Fatalf("expected tenant active 2, got %d", got)
	}

	m.Release("payrun.finalize.item", "acme")
	if got := m.TenantActiveCount("payrun.finalize.item", "acme"); got != 1 {
		t.Fatalf("expected tenant active 1, got %d", got)
	}
}

// ──────────────────────────────────────────────────
// Dynamic reconfiguration
// ──────────────────────────────────────────────────

func TestManager_SetQueueConfigPreservesActive(t *testing.T) {
	m := NewManager(Config{
		Name:           "payrun.finalize.item",
		MaxConcurrency: 1,
	})

	m.Acquire("payrun.finalize.item", "")
	if m.Acquire("payrun.finalize.item", "") {
		t.Fatal("should be blocked at concurrency 1")
	}

	// Raising the limit keeps the in-flight job accounted for.
	m.SetQueueConfig(Config{
		Name:           "payrun.finalize.item",
		MaxConcurrency: 3,
	})
	if m.ActiveCount("payrun.finalize.item") != 1 {
		t.Fatalf("active count lost on reconfigure: %d", m.ActiveCount("payrun.finalize.item"))
	}

	if !m.Acquire("payrun.finalize.item", "") {
		t.Fatal("should succeed after raising concurrency")
	}
	m.Release("payrun.finalize.item", "")
	m.Release("payrun.finalize.item", "")
}

// ──────────────────────────────────────────────────
// Concurrency safety
// ──────────────────────────────────────────────────

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager(Config{
		Name:           "payrun.finalize.item",
		MaxConcurrency: 50,
	})

	var acquired atomic.Int64
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Acquire("payrun.finalize.item", "") {
				acquired.Add(1)
				time.Sleep(time.Millisecond)
				m.Release("payrun.finalize.item", "")
			}
		}()
	}

	wg.Wait()

	if acquired.Load() == 0 {
		t.Fatal("expected some Acquires to succeed")
	}
	if m.ActiveCount("payrun.finalize.item") != 0 {
		t.Fatalf("expected 0 active after all goroutines, got %d", m.ActiveCount("payrun.finalize.item"))
	}
}
