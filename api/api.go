package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/payflux/payrun/coordinator"
	"github.com/payflux/payrun/dlq"
	"github.com/payflux/payrun/engine"
	"github.com/payflux/payrun/job"
	"github.com/payflux/payrun/run"
)

// API wires all Forge-style HTTP handlers together for the payrun system.
type API struct {
	eng           *engine.Engine
	router        forge.Router
	internalToken string
}

// Option configures an API.
type Option func(*API)

// WithInternalToken sets the shared secret required by the internal
// execute endpoint. Requests must carry it in X-Internal-Auth.
func WithInternalToken(token string) Option {
	return func(a *API) {
		a.internalToken = token
	}
}

// New creates an API from a payrun Engine.
func New(eng *engine.Engine, router forge.Router, opts ...Option) *API {
	a := &API{eng: eng, router: router}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	if a.router == nil {
		a.router = forge.NewRouter()
	}
	a.RegisterRoutes(a.router)
	return a.router.Handler()
}

// RegisterRoutes registers all payrun API routes into the given Forge router
// with full OpenAPI metadata.
func (a *API) RegisterRoutes(router forge.Router) {
	a.registerRunRoutes(router)
	a.registerJobRoutes(router)
	a.registerDLQRoutes(router)
	a.registerOutboxRoutes(router)
}

// registerRunRoutes registers pay run lifecycle routes.
func (a *API) registerRunRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("payruns"))

	_ = g.POST("/payruns", a.startRun,
		forge.WithSummary("Start pay run"),
		forge.WithDescription("Creates a run with one item per member, or returns the existing run for a repeated request."),
		forge.WithOperationID("startPayrun"),
		forge.WithRequestSchema(StartRunRequest{}),
		forge.WithResponseSchema(http.StatusCreated, "Run created", &coordinator.StartResult{}),
		forge.WithResponseSchema(http.StatusOK, "Run already exists", &coordinator.StartResult{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/payruns", a.listRuns,
		forge.WithSummary("List pay runs"),
		forge.WithDescription("Returns the tenant's runs filtered by status."),
		forge.WithOperationID("listPayruns"),
		forge.WithRequestSchema(ListRunsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Run list", []*run.Run{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/payruns/:runId", a.getRun,
		forge.WithSummary("Get pay run status"),
		forge.WithDescription("Returns the run's status, item counts, and a bounded list of item failures."),
		forge.WithOperationID("getPayrun"),
		forge.WithRequestSchema(GetRunRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Run status report", &coordinator.StatusReport{}),
		forge.WithErrorResponses(),
	)

	ig := router.Group("/internal/v1", forge.WithGroupTags("internal"))

	_ = ig.POST("/payruns/:runId/execute", a.executeRun,
		forge.WithSummary("Execute pay run batches"),
		forge.WithDescription("Runs one lease-gated execute slice for the run. Requires the internal auth token."),
		forge.WithOperationID("executePayrun"),
		forge.WithRequestSchema(ExecuteRunRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Execute result", &coordinator.ExecuteResult{}),
		forge.WithErrorResponses(),
	)
}

// registerJobRoutes registers job management routes.
func (a *API) registerJobRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("jobs"))

	_ = g.GET("/jobs", a.listJobs,
		forge.WithSummary("List jobs"),
		forge.WithDescription("Returns jobs filtered by state, queue, tenant, and run."),
		forge.WithOperationID("listJobs"),
		forge.WithRequestSchema(ListJobsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Job list", []*job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs/:jobId", a.getJob,
		forge.WithSummary("Get job"),
		forge.WithDescription("Returns details of a specific job."),
		forge.WithOperationID("getJob"),
		forge.WithResponseSchema(http.StatusOK, "Job details", &job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs/counts", a.jobCounts,
		forge.WithSummary("Job counts"),
		forge.WithDescription("Returns job counts grouped by state."),
		forge.WithOperationID("jobCounts"),
		forge.WithResponseSchema(http.StatusOK, "Job counts", JobCountsResponse{}),
		forge.WithErrorResponses(),
	)
}

// registerDLQRoutes registers dead letter queue management routes.
func (a *API) registerDLQRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("dlq"))

	_ = g.GET("/dlq", a.listDLQ,
		forge.WithSummary("List DLQ entries"),
		forge.WithDescription("Returns dead letter queue entries."),
		forge.WithOperationID("listDLQ"),
		forge.WithRequestSchema(ListDLQRequest{}),
		forge.WithResponseSchema(http.StatusOK, "DLQ entries", []*dlq.Entry{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/dlq/:entryId", a.getDLQ,
		forge.WithSummary("Get DLQ entry"),
		forge.WithDescription("Returns details of a specific DLQ entry."),
		forge.WithOperationID("getDLQ"),
		forge.WithResponseSchema(http.StatusOK, "DLQ entry details", &dlq.Entry{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/dlq/:entryId/replay", a.replayDLQ,
		forge.WithSummary("Replay DLQ entry"),
		forge.WithDescription("Re-enqueues a DLQ entry as a fresh pending job starting over at attempt 1."),
		forge.WithOperationID("replayDLQ"),
		forge.WithCreatedResponse(&job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/dlq/replay", a.replayAllDLQ,
		forge.WithSummary("Replay DLQ entries in bulk"),
		forge.WithDescription("Re-enqueues all matching DLQ entries as fresh pending jobs."),
		forge.WithOperationID("replayAllDLQ"),
		forge.WithRequestSchema(ReplayAllDLQRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Replayed jobs", ReplayAllDLQResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/dlq/purge", a.purgeDLQ,
		forge.WithSummary("Purge DLQ"),
		forge.WithDescription("Removes old DLQ entries."),
		forge.WithOperationID("purgeDLQ"),
		forge.WithResponseSchema(http.StatusOK, "Purge result", PurgeDLQResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/dlq/count", a.dlqCount,
		forge.WithSummary("DLQ count"),
		forge.WithDescription("Returns the total number of DLQ entries."),
		forge.WithOperationID("dlqCount"),
		forge.WithResponseSchema(http.StatusOK, "DLQ count", DLQCountResponse{}),
		forge.WithErrorResponses(),
	)
}

// registerOutboxRoutes registers outbox inspection routes.
func (a *API) registerOutboxRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("outbox"))

	_ = g.GET("/outbox/stats", a.outboxStats,
		forge.WithSummary("Outbox stats"),
		forge.WithDescription("Returns outbox event counts by delivery status and broker publish totals."),
		forge.WithOperationID("outboxStats"),
		forge.WithResponseSchema(http.StatusOK, "Outbox statistics", OutboxStatsResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/outbox/purge", a.purgeOutbox,
		forge.WithSummary("Purge sent outbox events"),
		forge.WithDescription("Deletes SENT outbox rows published before the retention cutoff."),
		forge.WithOperationID("purgeOutbox"),
		forge.WithRequestSchema(PurgeOutboxRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Purge result", PurgeOutboxResponse{}),
		forge.WithErrorResponses(),
	)
}
