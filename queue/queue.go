package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines admission limits for one queue.
type Config struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string

	// MaxConcurrency limits how many jobs from this queue may run
	// simultaneously across the local worker pool. Zero means no
	// queue-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second admitted from
	// this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// gate is the shared admission state behind a queue or a queue+tenant
// pair: an optional token bucket plus an active-job ceiling.
type gate struct {
	limiter   *rate.Limiter
	maxActive int
	active    int
}

func newGate(ratePerSec float64, burst, maxActive int) *gate {
	g := &gate{maxActive: maxActive}
	if ratePerSec > 0 {
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return g
}

// admit reports whether another job may start. It consumes a rate token
// but does not yet count the job as active; the caller bumps active
// only after every gate on the path has admitted.
func (g *gate) admit() bool {
	if g == nil {
		return true
	}
	if g.limiter != nil && !g.limiter.Allow() {
		return false
	}
	return g.maxActive <= 0 || g.active < g.maxActive
}

func (g *gate) enter() {
	if g != nil {
		g.active++
	}
}

func (g *gate) leave() {
	if g != nil && g.active > 0 {
		g.active--
	}
}

// Manager admits dequeued jobs against per-queue and per-tenant limits.
// The worker pool consults it before executing each job, so one
// tenant's large finalization fan-out cannot starve the rest of the
// pool. Safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	queues  map[string]*gate
	tenants map[string]*gate
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues:  make(map[string]*gate, len(configs)),
		tenants: make(map[string]*gate),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	}
	return m
}

// Acquire checks the queue gate and, when the job carries a tenant, the
// queue+tenant gate. When both admit, the job is counted active on each
// and Acquire returns true. The caller MUST call Release when the job
// completes.
func (m *Manager) Acquire(queue, tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qg := m.queues[queue]
	if !qg.admit() {
		return false
	}

	var tg *gate
	if tenantID != "" {
		tg = m.tenants[tenantKey(queue, tenantID)]
		if !tg.admit() {
			return false
		}
	}

	qg.enter()
	tg.enter()
	return true
}

// Release returns the slots taken by Acquire.
func (m *Manager) Release(queue, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queues[queue].leave()
	if tenantID != "" {
		m.tenants[tenantKey(queue, tenantID)].leave()
	}
}

// SetQueueConfig updates (or creates) a queue's limits at runtime. The
// active count carries over so in-flight jobs stay accounted for.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	if existing := m.queues[cfg.Name]; existing != nil {
		g.active = existing.active
	}
	m.queues[cfg.Name] = g
}

// ActiveCount returns the number of jobs currently running from a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.queues[queue]; g != nil {
		return g.active
	}
	return 0
}
