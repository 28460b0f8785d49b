// Package taskstore provides a client for the external Task store:
// the system of record for tasks, trigger rules, and job execution
// that ARRE consumes but does not own. ARRE requires only typed
// get/list/create/delete and a submit-job call; the exact wire
// protocol beyond the REST shape below is the task store's concern.
package taskstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/arre-io/arre/pkg/types"
)

// Config holds configuration for the task store API client.
type Config struct {
	BaseURL   string        // Base URL (e.g., "https://tasks.internal/api/v1")
	AuthToken string        // Bearer token for authentication
	Timeout   time.Duration // HTTP timeout (default: 30s)
	RateLimit int           // Requests per minute (default: 300)
}

// Client is a task store API client.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	authToken   string
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// NewClient creates a new task store API client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	rateLimit := cfg.RateLimit
	if rateLimit == 0 {
		rateLimit = 300 // 300 requests per minute = 5 per second
	}

	return &Client{
		baseURL:     cfg.BaseURL,
		httpClient:  &http.Client{Timeout: timeout},
		authToken:   cfg.AuthToken,
		rateLimiter: rate.NewLimiter(rate.Limit(float64(rateLimit)/60.0), 1),
		logger:      logger.With("component", "taskstore_client"),
	}
}

// apiResponse mirrors the task store's envelope: {"data": ...} on
// success, {"error": "..."} otherwise.
type apiResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// doRequest performs a rate-limited HTTP call against the task store
// and unmarshals the "data" envelope field into out (nil to discard).
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("parse URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("task store request", "method", method, "url", u.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return ErrPermissionDenied
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: status %d, body: %s", ErrPermanent, resp.StatusCode, string(respBody))
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("unmarshal response envelope: %w", err)
	}
	if parsed.Error != "" {
		return fmt.Errorf("%w: %s", ErrPermanent, parsed.Error)
	}
	if out != nil && len(parsed.Data) > 0 {
		if err := json.Unmarshal(parsed.Data, out); err != nil {
			return fmt.Errorf("unmarshal response data: %w", err)
		}
	}
	return nil
}

// ListTriggerTasks fetches every task carrying at least one trigger
// rule, used to rebuild the deterministic matcher's index.
func (c *Client) ListTriggerTasks(ctx context.Context) ([]types.TaskRef, error) {
	var tasks []types.TaskRef
	if err := c.doRequest(ctx, http.MethodGet, "/tasks", url.Values{"has_trigger_rules": {"true"}}, nil, &tasks); err != nil {
		return nil, fmt.Errorf("list trigger tasks: %w", err)
	}
	return tasks, nil
}

// GetTasksByTriggerKey queries the task store directly by
// (source, alert_name), used when the matcher's index cannot be
// trusted as authoritative for a miss.
func (c *Client) GetTasksByTriggerKey(ctx context.Context, key types.TriggerKey) ([]types.TaskRef, error) {
	q := url.Values{"source": {key.Source}, "alert_name": {key.AlertName}}
	var tasks []types.TaskRef
	if err := c.doRequest(ctx, http.MethodGet, "/tasks/by-trigger", q, nil, &tasks); err != nil {
		return nil, fmt.Errorf("get tasks by trigger key: %w", err)
	}
	return tasks, nil
}

// GetTask fetches a single task by id.
func (c *Client) GetTask(ctx context.Context, id string) (*types.TaskRef, error) {
	var task types.TaskRef
	if err := c.doRequest(ctx, http.MethodGet, "/tasks/"+id, nil, nil, &task); err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &task, nil
}

// ListToolTasks returns every task marked is_tooltask, the candidate
// pool the AI selector vector-searches over.
func (c *Client) ListToolTasks(ctx context.Context) ([]types.TaskRef, error) {
	var tasks []types.TaskRef
	if err := c.doRequest(ctx, http.MethodGet, "/tasks", url.Values{"is_tooltask": {"true"}}, nil, &tasks); err != nil {
		return nil, fmt.Errorf("list tooltasks: %w", err)
	}
	return tasks, nil
}

// CreateTaskRequest is the payload for creating a runbook or child
// investigation task (autonomous mode only).
type CreateTaskRequest struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Tags            []string `json:"tags,omitempty"`
	ParentTaskID    string   `json:"parent_task_id,omitempty"`
	ScriptPlan      string   `json:"script_plan,omitempty"`
}

// CreateTask creates a new task and returns its id.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (string, error) {
	var created types.TaskRef
	if err := c.doRequest(ctx, http.MethodPost, "/tasks", nil, req, &created); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	return created.ID, nil
}

// DeleteTask deletes a task by id, used to roll back a partially
// created runbook/child task pair.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/tasks/"+id, nil, nil, nil); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// SubmitJobRequest is the payload for submitting a job against a task.
type SubmitJobRequest struct {
	TaskID       string         `json:"task_id"`
	AlertContext map[string]any `json:"alert_context"`
	Workspace    string         `json:"workspace,omitempty"`
}

// SubmitJob starts execution of the given task and returns a job id.
func (c *Client) SubmitJob(ctx context.Context, req SubmitJobRequest) (string, error) {
	var result struct {
		JobID string `json:"job_id"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/jobs", nil, req, &result); err != nil {
		return "", fmt.Errorf("submit job for task %s: %w", req.TaskID, err)
	}
	return result.JobID, nil
}
