package giglinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Gigline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credential is set. Only
	// works against servers running with the legacy header enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Job represents the API job model (partial).
type Job struct {
	ID            string   `json:"id"`
	ClientID      string   `json:"client_id"`
	Title         string   `json:"title"`
	JobType       string   `json:"job_type"`
	Pay           float64  `json:"pay"`
	Status        string   `json:"status"`
	WorkerID      *string  `json:"worker_id,omitempty"`
	WorkflowPhase *string  `json:"workflow_phase,omitempty"`
	TimelineStage *string  `json:"timeline_stage,omitempty"`
	InvoiceID     *string  `json:"invoice_id,omitempty"`
	CancelPenalty *float64 `json:"cancel_penalty,omitempty"`
	IsCompleted   bool     `json:"is_completed"`
}

// Application represents a worker's application.
type Application struct {
	ID         string `json:"id"`
	JobID      string `json:"job_id"`
	WorkerID   string `json:"worker_id"`
	WorkerName string `json:"worker_name,omitempty"`
	Message    string `json:"message,omitempty"`
	Status     string `json:"status"`
	AppliedAt  string `json:"applied_at"`
}

// Workflow reports a job's phase and progress.
type Workflow struct {
	JobID      string  `json:"job_id"`
	Phase      *string `json:"phase,omitempty"`
	NextPhase  *string `json:"next_phase,omitempty"`
	Progress   int     `json:"progress"`
	CanAdvance bool    `json:"can_advance"`
}

// Notification is one feed entry.
type Notification struct {
	ID             string  `json:"id"`
	Type           string  `json:"type"`
	Title          string  `json:"title"`
	Message        string  `json:"message,omitempty"`
	JobID          *string `json:"job_id,omitempty"`
	ActionRequired bool    `json:"action_required"`
	IsRead         bool    `json:"is_read"`
	CreatedAt      string  `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	JobID      string `json:"job_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateJob posts a job.
func (c *Client) CreateJob(ctx context.Context, title, description, jobType string, pay float64) (Job, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
		"job_type":    jobType,
		"pay":         pay,
	}
	var resp Job
	err := c.do(ctx, http.MethodPost, "v0/jobs", body, &resp)
	return resp, err
}

// GetJob fetches a job by id.
func (c *Client) GetJob(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodGet, c.jobPath(jobID, ""), nil, &resp)
	return resp, err
}

// ListJobs returns jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, status string) ([]Job, error) {
	endpoint := "v0/jobs"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Jobs []Job `json:"jobs"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Jobs, err
}

// PublishJob publishes a draft.
func (c *Client) PublishJob(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, c.jobPath(jobID, "publish"), nil, &resp)
	return resp, err
}

// UpdateStatus moves the job's status forward.
func (c *Client) UpdateStatus(ctx context.Context, jobID, status string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPatch, c.jobPath(jobID, "status"), map[string]any{"status": status}, &resp)
	return resp, err
}

// CancelJob cancels a job with a reason.
func (c *Client) CancelJob(ctx context.Context, jobID, reason string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, c.jobPath(jobID, "cancel"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// Apply submits an application to a job.
func (c *Client) Apply(ctx context.Context, jobID, workerName, message string) (Application, error) {
	body := map[string]any{
		"worker_name": workerName,
		"message":     message,
	}
	var resp Application
	err := c.do(ctx, http.MethodPost, c.jobPath(jobID, "applications"), body, &resp)
	return resp, err
}

// Applications lists a job's applications.
func (c *Client) Applications(ctx context.Context, jobID string) ([]Application, error) {
	var resp struct {
		Applications []Application `json:"applications"`
	}
	err := c.do(ctx, http.MethodGet, c.jobPath(jobID, "applications"), nil, &resp)
	return resp.Applications, err
}

// SelectWorker picks the winning application.
func (c *Client) SelectWorker(ctx context.Context, jobID, workerID string) (Job, error) {
	var resp Job
	endpoint := c.jobPath(jobID, fmt.Sprintf("applications/%s/select", url.PathEscape(workerID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// AdvanceStage records a timeline milestone.
func (c *Client) AdvanceStage(ctx context.Context, jobID, stage, message string) error {
	body := map[string]any{
		"stage":   stage,
		"message": message,
	}
	return c.do(ctx, http.MethodPost, c.jobPath(jobID, "timeline/advance"), body, nil)
}

// Workflow returns the job's workflow state.
func (c *Client) Workflow(ctx context.Context, jobID string) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodGet, c.jobPath(jobID, "workflow"), nil, &resp)
	return resp, err
}

// WorkflowStep runs one named workflow step with an optional body.
// Steps: advance, evidence, submit, confirm, payment, payment-proof,
// receipt, finalize.
func (c *Client) WorkflowStep(ctx context.Context, jobID, step string, body any) (Workflow, error) {
	var resp Workflow
	endpoint := c.jobPath(jobID, "workflow/"+strings.TrimLeft(step, "/"))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// UploadEvidence attaches evidence files.
func (c *Client) UploadEvidence(ctx context.Context, jobID string, files []string) (Workflow, error) {
	return c.WorkflowStep(ctx, jobID, "evidence", map[string]any{"files": files})
}

// Notifications returns the caller's feed.
func (c *Client) Notifications(ctx context.Context, notifType string) ([]Notification, error) {
	endpoint := "v0/notifications"
	if notifType != "" {
		endpoint += "?type=" + url.QueryEscape(notifType)
	}
	var resp struct {
		Notifications []Notification `json:"notifications"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Notifications, err
}

// MarkNotificationRead marks one feed entry read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("v0/notifications/%s/read", url.PathEscape(id))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Events, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) jobPath(jobID, p string) string {
	base := fmt.Sprintf("v0/jobs/%s", url.PathEscape(jobID))
	if p == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
