package payrun

import "context"

// Context is the execution context for payrun handlers.
// It is an alias for context.Context; tenant scope rides on it via
// forge.WithScope so handlers keep plain stdlib signatures.
type Context = context.Context
