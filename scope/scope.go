// Package scope provides helpers to capture and restore multi-tenant
// execution context (the tenant identity) from/to context.Context.
//
// When the forge framework is available, scope is carried via
// forge.WithScope / forge.ScopeFrom. These helpers bridge between
// the Job entity's TenantID field and the context.
package scope

import (
	"context"

	"github.com/xraph/forge"
)

// appID is the application identifier used when building forge scopes.
// Tenants map to forge org scopes under this app.
const appID = "payrun"

// Capture extracts the tenant identifier from the context.
// Returns an empty string if no scope is present.
func Capture(ctx context.Context) (tenantID string) {
	s, ok := forge.ScopeFrom(ctx)
	if !ok {
		return ""
	}
	return s.OrgID()
}

// Restore attaches a tenant scope to the context.
// If tenantID is empty, the context is returned unchanged (no-op).
func Restore(ctx context.Context, tenantID string) context.Context {
	if tenantID == "" {
		return ctx
	}
	return forge.WithScope(ctx, forge.NewOrgScope(appID, tenantID))
}
