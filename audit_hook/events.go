package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued    = "job.enqueued"
	ActionJobStarted     = "job.started"
	ActionJobSucceeded   = "job.succeeded"
	ActionJobFailed      = "job.failed"
	ActionJobRetrying    = "job.retrying"
	ActionJobDLQ         = "job.dlq"
	ActionRunStarted     = "run.started"
	ActionRunFinalized   = "run.finalized"
	ActionItemSucceeded  = "item.succeeded"
	ActionItemFailed     = "item.failed"
	ActionEventPublished = "outbox.published"
)

// Audit event categories group related actions.
const (
	CategoryJob    = "payrun.job"
	CategoryRun    = "payrun.run"
	CategoryOutbox = "payrun.outbox"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob   = "job"
	ResourceRun   = "pay_run"
	ResourceItem  = "run_item"
	ResourceEvent = "outbox_event"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobSucceeded,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobDLQ,
		ActionRunStarted,
		ActionRunFinalized,
		ActionItemSucceeded,
		ActionItemFailed,
		ActionEventPublished,
	}
}
