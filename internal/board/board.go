// Package board talks to a Vikunja-compatible kanban board where extracted
// tasks are reviewed, confirmed, and closed out.
package board

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Task is the board's view of a task. Only the fields tfyn reads or writes
// are mapped.
type Task struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Done        bool   `json:"done"`
	Priority    int    `json:"priority,omitempty"`
	BucketID    int64  `json:"bucket_id,omitempty"`
}

// bucket is one column of a kanban view.
type bucket struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Tasks []Task `json:"tasks"`
}

// Config selects the board, project, and kanban buckets to work against.
type Config struct {
	BaseURL           string
	APIKey            string
	ProjectID         int64
	ViewID            int64
	ConfirmedBucketID int64
	DoneBucketID      int64
	DryRun            bool
}

// Client is a minimal Vikunja API client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a board client. Zero project/view/bucket IDs fall back
// to the conventional tfyn board layout (project 1, view 4, confirmed
// bucket 4, done bucket 5).
func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.ProjectID == 0 {
		cfg.ProjectID = 1
	}
	if cfg.ViewID == 0 {
		cfg.ViewID = 4
	}
	if cfg.ConfirmedBucketID == 0 {
		cfg.ConfirmedBucketID = 4
	}
	if cfg.DoneBucketID == 0 {
		cfg.DoneBucketID = 5
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        log,
	}
}

// DryRun reports whether the client is in dry-run mode.
func (c *Client) DryRun() bool {
	return c.cfg.DryRun
}

// CreateTask creates a new task on the board and returns it with the
// board-assigned ID. In dry-run mode no call is made and a synthetic task
// with ID 0 is returned.
func (c *Client) CreateTask(ctx context.Context, title, description, priority string) (Task, error) {
	if c.cfg.DryRun {
		c.log.Info("dry run: would create board task", "title", title)
		return Task{Title: title, Description: description, Priority: priorityValue(priority)}, nil
	}

	payload := map[string]any{
		"title":       title,
		"description": description,
		"done":        false,
	}
	if p := priorityValue(priority); p > 0 {
		payload["priority"] = p
	}

	endpoint := fmt.Sprintf("%s/api/v1/projects/%d/tasks", c.cfg.BaseURL, c.cfg.ProjectID)
	var created Task
	if err := c.do(ctx, http.MethodPut, endpoint, payload, &created); err != nil {
		return Task{}, fmt.Errorf("creating board task: %w", err)
	}

	c.log.Info("created board task", "id", created.ID, "title", created.Title)
	return created, nil
}

// ConfirmedTasks returns the tasks sitting in the confirmed bucket of the
// kanban view, ready for execution.
func (c *Client) ConfirmedTasks(ctx context.Context) ([]Task, error) {
	endpoint := fmt.Sprintf("%s/api/v1/projects/%d/views/%d/tasks", c.cfg.BaseURL, c.cfg.ProjectID, c.cfg.ViewID)

	var buckets []bucket
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &buckets); err != nil {
		return nil, fmt.Errorf("fetching kanban view: %w", err)
	}

	for _, b := range buckets {
		if b.ID == c.cfg.ConfirmedBucketID {
			return b.Tasks, nil
		}
	}
	return []Task{}, nil
}

// GetTask fetches a single board task by ID.
func (c *Client) GetTask(ctx context.Context, taskID int64) (Task, error) {
	endpoint := fmt.Sprintf("%s/api/v1/tasks/%d", c.cfg.BaseURL, taskID)

	var t Task
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &t); err != nil {
		return Task{}, fmt.Errorf("fetching board task %d: %w", taskID, err)
	}
	return t, nil
}

// UpdateTaskWithResults appends an execution-results section to the task's
// description, marks it done, and moves it to the done bucket. In dry-run
// mode no call is made and a synthetic done task is returned.
func (c *Client) UpdateTaskWithResults(ctx context.Context, taskID int64, results string) (Task, error) {
	if c.cfg.DryRun {
		c.log.Info("dry run: would update board task with results", "id", taskID)
		return Task{ID: taskID, Done: true, BucketID: c.cfg.DoneBucketID}, nil
	}

	// Fetch first so the existing description is preserved.
	current, err := c.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}

	payload := map[string]any{
		"description": fmt.Sprintf("%s\n\nExecution Results:\n%s", current.Description, results),
		"bucket_id":   c.cfg.DoneBucketID,
		"done":        true,
	}

	endpoint := fmt.Sprintf("%s/api/v1/tasks/%d", c.cfg.BaseURL, taskID)
	var updated Task
	if err := c.do(ctx, http.MethodPost, endpoint, payload, &updated); err != nil {
		return Task{}, fmt.Errorf("updating board task %d: %w", taskID, err)
	}

	c.log.Info("updated board task with results", "id", taskID)
	return updated, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("board API returned %d: %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// priorityValue maps the extractor's priority words onto the board's 0-5
// scale. Unknown words map to unset.
func priorityValue(priority string) int {
	switch strings.ToLower(strings.TrimSpace(priority)) {
	case "low":
		return 1
	case "medium":
		return 2
	case "high":
		return 3
	case "urgent":
		return 4
	default:
		return 0
	}
}
