package gatelinesdk

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

// Client is a minimal Gateline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Gate represents the API gate model.
type Gate struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Approver   string `json:"approver,omitempty"`
	ApprovedAt string `json:"approved_at,omitempty"`
	Comments   string `json:"comments,omitempty"`
}

// Task represents the API task model (partial).
type Task struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Type            string   `json:"type"`
	Status          string   `json:"status"`
	SuccessCriteria string   `json:"success_criteria"`
	BlockedBy       []string `json:"blocked_by,omitempty"`
}

// TaskList is a task listing with derived progress.
type TaskList struct {
	ProjectID string `json:"project_id"`
	Tasks     []Task `json:"tasks"`
	Progress  int    `json:"progress"`
}

// ProjectState is the full aggregate (partial view).
type ProjectState struct {
	Identity struct {
		Name  string `json:"name"`
		Type  string `json:"type"`
		Owner string `json:"owner"`
	} `json:"identity"`
	Phase string `json:"phase"`
	Gates []Gate `json:"gates"`
}

// GateDecision is the result of an approve or reject call.
type GateDecision struct {
	Gate  Gate   `json:"gate"`
	Phase string `json:"phase"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// State fetches the full project state.
func (c *Client) State(ctx context.Context) (ProjectState, error) {
	var resp ProjectState
	err := c.do(ctx, http.MethodGet, c.projectPath("state"), nil, &resp)
	return resp, err
}

// NextGate returns the first pending gate, or nil when none remain.
func (c *Client) NextGate(ctx context.Context) (*Gate, error) {
	var resp struct {
		Gate *Gate `json:"gate"`
	}
	err := c.do(ctx, http.MethodGet, c.projectPath("gates/next"), nil, &resp)
	return resp.Gate, err
}

// ApproveGate approves a gate by id.
func (c *Client) ApproveGate(ctx context.Context, gateID, comments string) (GateDecision, error) {
	body := map[string]any{}
	if comments != "" {
		body["comments"] = comments
	}
	var resp GateDecision
	endpoint := c.projectPath(fmt.Sprintf("gates/%s/approve", url.PathEscape(gateID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RejectGate rejects a gate by id. Comments are required.
func (c *Client) RejectGate(ctx context.Context, gateID, comments string) (GateDecision, error) {
	body := map[string]any{"comments": comments}
	var resp GateDecision
	endpoint := c.projectPath(fmt.Sprintf("gates/%s/reject", url.PathEscape(gateID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title, taskType, successCriteria string) (Task, error) {
	body := map[string]any{
		"title":            title,
		"type":             taskType,
		"success_criteria": successCriteria,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), body, &resp)
	return resp, err
}

// Tasks lists tasks; ready filters to workable ones.
func (c *Client) Tasks(ctx context.Context, ready bool) (TaskList, error) {
	endpoint := c.projectPath("tasks")
	if ready {
		endpoint += "?ready=true"
	}
	var resp TaskList
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events for the project.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("v0/events?project_id=%s", url.QueryEscape(c.ProjectID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s&limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
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

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
