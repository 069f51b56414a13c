package middleware

import (
	"context"

	"github.com/payflux/payrun/job"
	"github.com/payflux/payrun/scope"
)

// Scope returns middleware that restores multi-tenant scope from the
// job's TenantID field into the context. This ensures handlers see the
// same forge.Scope as the original enqueue caller.
func Scope() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx = scope.Restore(ctx, j.TenantID)
		return next(ctx)
	}
}
