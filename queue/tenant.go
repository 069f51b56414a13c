package queue

import "fmt"

// TenantConfig defines admission limits for one tenant on one queue,
// identified by the job's TenantID.
type TenantConfig struct {
	// QueueName is the queue this config applies to.
	QueueName string

	// TenantID is the tenant identifier (the job's TenantID field).
	TenantID string

	// RateLimit is the sustained jobs per second for this tenant.
	RateLimit float64

	// RateBurst is the burst size for the tenant's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous jobs for this tenant on this
	// queue. Zero means no tenant-specific concurrency limit.
	MaxConcurrency int
}

// tenantKey builds the map key for a queue+tenant pair.
func tenantKey(queue, tenantID string) string {
	return fmt.Sprintf("%s:%s", queue, tenantID)
}

// SetTenantConfig sets the limits for one tenant on one queue,
// replacing any previous configuration for that pair. The active count
// carries over so in-flight jobs stay accounted for.
func (m *Manager) SetTenantConfig(cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantKey(cfg.QueueName, cfg.TenantID)
	g := newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	if existing := m.tenants[key]; existing != nil {
		g.active = existing.active
	}
	m.tenants[key] = g
}

// TenantActiveCount returns the number of jobs a tenant currently has
// running on a queue.
func (m *Manager) TenantActiveCount(queue, tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.tenants[tenantKey(queue, tenantID)]; g != nil {
		return g.active
	}
	return 0
}
