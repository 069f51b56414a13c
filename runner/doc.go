// Package runner packages the client-side loop for driving a run to
// completion: start, Execute until terminal under a stable lease
// owner, then a final status fetch. It works against any Executor, so
// the same loop runs in-process against a coordinator or remotely
// through the HTTP client.
package runner
