package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"glossa/internal/services/relay"
	"glossa/internal/store"
	"glossa/internal/task"
)

// ErrNotFound is returned when the daemon reports a missing resource.
var ErrNotFound = errors.New("not found")

// Client talks to a running glossa daemon over its HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient constructs a client for the daemon at baseURL. The token may be
// empty when the daemon runs without authentication.
func NewClient(baseURL, token string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL != "" && !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit creates a new task and returns it with its assigned identifier.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*task.Task, error) {
	var created task.Task
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks", req, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// Task fetches one task with its language sub-tasks.
func (c *Client) Task(ctx context.Context, id string) (*task.Task, error) {
	var got task.Task
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id), nil, &got); err != nil {
		return nil, err
	}
	return &got, nil
}

// Tasks lists tasks, optionally filtered to comma-separated statuses.
func (c *Client) Tasks(ctx context.Context, statuses string) ([]*task.Task, error) {
	path := "/api/v1/tasks"
	if statuses = strings.TrimSpace(statuses); statuses != "" {
		path += "?status=" + url.QueryEscape(statuses)
	}
	var list TaskList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Tasks, nil
}

// Delete removes a task and its queued work.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/tasks/"+url.PathEscape(id), nil, nil)
}

// QueueStats fetches queue depths, task counts, and worker counters.
func (c *Client) QueueStats(ctx context.Context) (*QueueStats, error) {
	var stats QueueStats
	if err := c.do(ctx, http.MethodGet, "/api/v1/queue/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// DeadLetters lists dead-lettered queue messages.
func (c *Client) DeadLetters(ctx context.Context, limit int) ([]*store.DeadLetter, error) {
	path := "/api/v1/deadletters"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var payload struct {
		DeadLetters []*store.DeadLetter `json:"dead_letters"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.DeadLetters, nil
}

// RetryDeadLetter puts a dead-lettered message back on the work queue.
func (c *Client) RetryDeadLetter(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/deadletters/%d/retry", id), nil, nil)
}

// RelayDeadLetters lists webhook deliveries the relay service gave up on.
func (c *Client) RelayDeadLetters(ctx context.Context) ([]relay.DeadLetter, error) {
	var payload struct {
		DeadLetters []relay.DeadLetter `json:"dead_letters"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/relay/deadletters", nil, &payload); err != nil {
		return nil, err
	}
	return payload.DeadLetters, nil
}

// RetryRelayDeadLetter asks the relay service to replay a dead-lettered
// delivery.
func (c *Client) RetryRelayDeadLetter(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/relay/deadletters/"+url.PathEscape(id)+"/retry", nil, nil)
}

// WebhookAttempts lists delivery attempts recorded for a task's events.
func (c *Client) WebhookAttempts(ctx context.Context, id string) ([]*store.WebhookAttempt, error) {
	var payload struct {
		Attempts []*store.WebhookAttempt `json:"attempts"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id)+"/webhooks", nil, &payload)
	if err != nil {
		return nil, err
	}
	return payload.Attempts, nil
}

// Health fetches the daemon health report. Unlike the other endpoints this
// one never requires authentication.
func (c *Client) Health(ctx context.Context) (*HealthReport, error) {
	var report HealthReport
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, target any) error {
	if c.baseURL == "" {
		return errors.New("daemon address not configured")
	}
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
