package steplinesdk

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

// Client is a minimal Stepline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api",
		Timeout:  30 * time.Second,
	}
}

type Step struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	FilePath  *string `json:"file_path,omitempty"`
	Error     *string `json:"error,omitempty"`
	JobID     *string `json:"job_id,omitempty"`
	UpdatedAt string  `json:"updated_at"`
}

type Project struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Prompt      string  `json:"prompt,omitempty"`
	Status      string  `json:"status"`
	Workspace   string  `json:"workspace"`
	Steps       []Step  `json:"steps"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	ArchivedAt  *string `json:"archived_at,omitempty"`
	ArchivePath *string `json:"archive_path,omitempty"`
}

// Step returns the named step or nil.
func (p Project) Step(id string) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

type StepHandle struct {
	ProjectID   string `json:"project_id"`
	Step        string `json:"step"`
	JobID       string `json:"job_id"`
	SubmittedAt string `json:"submitted_at"`
}

type ArchiveResult struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	LocalPath   string `json:"local_path"`
	ArchivedAt  string `json:"archived_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type FileInfo struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
}

type FileEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	IsDirectory bool   `json:"is_directory"`
	Size        *int64 `json:"size,omitempty"`
	Modified    string `json:"modified"`
}

// APIError wraps non-2xx responses. Code is the envelope error code when the
// body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project with four pending steps.
func (c *Client) CreateProject(ctx context.Context, name, description, prompt string) (Project, error) {
	body := map[string]any{
		"name":        name,
		"description": description,
		"prompt":      prompt,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "projects", nil, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Events returns recent events of a project, newest first.
func (c *Client) Events(ctx context.Context, projectID string, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("projects/%s/events", url.PathEscape(projectID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RunStep starts a step; the server polls the generation job in the background.
func (c *Client) RunStep(ctx context.Context, projectID, step string) (StepHandle, error) {
	var resp StepHandle
	err := c.do(ctx, http.MethodPost, "agents/"+url.PathEscape(step), map[string]any{"project_id": projectID}, &resp)
	return resp, err
}

// WaitStep polls the project until the step leaves in_progress.
func (c *Client) WaitStep(ctx context.Context, projectID, step string, interval time.Duration) (Step, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		p, err := c.GetProject(ctx, projectID)
		if err != nil {
			return Step{}, err
		}
		s := p.Step(step)
		if s == nil {
			return Step{}, fmt.Errorf("project %s has no step %q", projectID, step)
		}
		if s.Status != "in_progress" {
			return *s, nil
		}
		select {
		case <-ctx.Done():
			return *s, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) Archive(ctx context.Context, projectID string) (ArchiveResult, error) {
	var resp ArchiveResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%s/archive", url.PathEscape(projectID)), nil, &resp)
	return resp, err
}

type WorkspaceInfo struct {
	ProjectID     string `json:"project_id"`
	WorkspacePath string `json:"workspace_path"`
	Exists        bool   `json:"exists"`
}

type WorkspaceCandidate struct {
	Directory string   `json:"directory"`
	Workspace string   `json:"workspace"`
	ProjectID string   `json:"project_id,omitempty"`
	Artifacts []string `json:"artifacts"`
}

func (c *Client) WorkspaceInfo(ctx context.Context, projectID string) (WorkspaceInfo, error) {
	var resp WorkspaceInfo
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("projects/%s/workspace", url.PathEscape(projectID)), nil, &resp)
	return resp, err
}

// ScanWorkspaces lists workspace directories holding step artifacts; owned
// ones carry their project id.
func (c *Client) ScanWorkspaces(ctx context.Context) ([]WorkspaceCandidate, error) {
	var resp []WorkspaceCandidate
	err := c.do(ctx, http.MethodGet, "workspace/projects", nil, &resp)
	return resp, err
}

func (c *Client) ImportWorkspaces(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodPost, "workspace/import", nil, &resp)
	return resp, err
}

func (c *Client) ReadFile(ctx context.Context, path string) (FileInfo, error) {
	var resp FileInfo
	err := c.do(ctx, http.MethodPost, "files/read", map[string]any{"file_path": path}, &resp)
	return resp, err
}

// WriteFile writes content and returns the absolute path written.
func (c *Client) WriteFile(ctx context.Context, path, content string) (string, error) {
	var resp struct {
		Path string `json:"path"`
	}
	err := c.do(ctx, http.MethodPost, "files/write", map[string]any{"file_path": path, "content": content}, &resp)
	return resp.Path, err
}

func (c *Client) ListFiles(ctx context.Context, dir string) ([]FileEntry, error) {
	var resp []FileEntry
	err := c.do(ctx, http.MethodPost, "files/list", map[string]any{"directory_path": dir}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
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
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
