// Package client provides a Go client for driving a remote payrun
// instance over its HTTP API.
//
// The client implements the runner.Executor contract, so a
// runner.Runner can poll a remote coordinator exactly as it would an
// in-process one:
//
//	c := client.New("https://payrun.internal",
//	    client.WithInternalToken("pk_..."),
//	)
//	r := runner.New(c, runner.WithOwner("runner-az1"))
//	report, err := r.Run(ctx, runner.RunRequest{...})
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/coordinator"
	"github.com/payflux/payrun/id"
)

// Client talks to a remote payrun HTTP API.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	internalToken string
	logger        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithInternalToken sets the shared secret sent in X-Internal-Auth on
// execute calls.
func WithInternalToken(token string) Option {
	return func(c *Client) { c.internalToken = token }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a Client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// startRunBody mirrors the server's start request schema.
type startRunBody struct {
	TenantID       string   `json:"tenant_id"`
	PeriodID       string   `json:"period_id"`
	Type           string   `json:"type,omitempty"`
	Sequence       int      `json:"sequence,omitempty"`
	MemberIDs      []string `json:"member_ids"`
	RunID          string   `json:"run_id,omitempty"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
	EnqueueJobs    bool     `json:"enqueue_jobs,omitempty"`
}

// executeRunBody mirrors the server's execute request schema.
type executeRunBody struct {
	TenantID   string `json:"tenant_id"`
	BatchSize  int    `json:"batch_size,omitempty"`
	MaxBatches int    `json:"max_batches,omitempty"`
	Owner      string `json:"owner,omitempty"`
}

// errorBody mirrors the server's error response schema.
type errorBody struct {
	Error string `json:"error"`
}

// Start creates the run remotely, or returns the existing run for a
// repeated request.
func (c *Client) Start(ctx context.Context, req coordinator.StartRequest) (*coordinator.StartResult, error) {
	body := startRunBody{
		TenantID:       req.TenantID,
		PeriodID:       req.PeriodID,
		Type:           string(req.Type),
		Sequence:       req.Sequence,
		MemberIDs:      req.MemberIDs,
		IdempotencyKey: req.IdempotencyKey,
		EnqueueJobs:    req.EnqueueJobs,
	}
	if !req.RequestedID.IsNil() {
		body.RunID = req.RequestedID.String()
	}

	var res coordinator.StartResult
	if err := c.do(ctx, http.MethodPost, "/v1/payruns", nil, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Execute runs one lease-gated execute slice for the run.
func (c *Client) Execute(ctx context.Context, req coordinator.ExecuteRequest) (*coordinator.ExecuteResult, error) {
	body := executeRunBody{
		TenantID:   req.TenantID,
		BatchSize:  req.BatchSize,
		MaxBatches: req.MaxBatches,
		Owner:      req.LeaseOwner,
	}

	path := "/internal/v1/payruns/" + req.RunID.String() + "/execute"
	var res coordinator.ExecuteResult
	if err := c.do(ctx, http.MethodPost, path, nil, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Status fetches the run's status report.
func (c *Client) Status(ctx context.Context, tenantID string, runID id.RunID, maxFailures int) (*coordinator.StatusReport, error) {
	q := url.Values{}
	q.Set("tenant_id", tenantID)
	if maxFailures > 0 {
		q.Set("max_failures", strconv.Itoa(maxFailures))
	}

	var report coordinator.StatusReport
	if err := c.do(ctx, http.MethodGet, "/v1/payruns/"+runID.String(), q, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// do performs one JSON round trip and maps error responses back to
// payrun sentinel errors.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("payrun/client: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("payrun/client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.internalToken != "" {
		req.Header.Set("X-Internal-Auth", c.internalToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payrun/client: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.mapError(resp)
	}

	if out != nil {
		if decodeErr := json.NewDecoder(resp.Body).Decode(out); decodeErr != nil {
			return fmt.Errorf("payrun/client: decode response: %w", decodeErr)
		}
	}
	return nil
}

// mapError converts an HTTP error response to a payrun sentinel error
// where the server's message matches one, so callers can use errors.Is
// across the wire.
func (c *Client) mapError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var eb errorBody
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
		msg = eb.Error
	}

	for _, sentinel := range []error{
		payrun.ErrLeaseConflict,
		payrun.ErrIdempotencyKeyMismatch,
		payrun.ErrRunAlreadyFinalized,
		payrun.ErrAlreadyReplayed,
		payrun.ErrRunNotFound,
		payrun.ErrJobNotFound,
		payrun.ErrEntryNotFound,
	} {
		if strings.Contains(msg, sentinel.Error()) {
			return sentinel
		}
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return payrun.ErrRunNotFound
	case http.StatusConflict:
		return payrun.ErrLeaseConflict
	case http.StatusUnauthorized:
		return fmt.Errorf("payrun/client: unauthorized: %s", msg)
	default:
		return fmt.Errorf("payrun/client: %s: %s", resp.Status, msg)
	}
}
