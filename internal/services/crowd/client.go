// Package crowd integrates with the human-review platform. Review batches
// become studies that reviewers score; results come back through the API
// callback endpoint.
package crowd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"glossa/internal/config"
	"glossa/internal/services"
)

const defaultTimeout = 30 * time.Second

// StudyItem is one translation presented to reviewers within a study.
type StudyItem struct {
	ReferenceID    string `json:"reference_id"`
	SourceText     string `json:"source_text"`
	TranslatedText string `json:"translated_text"`
	Language       string `json:"language"`
	Instructions   string `json:"instructions,omitempty"`
}

// CreateStudyRequest describes a new study for one review batch.
type CreateStudyRequest struct {
	Name        string
	Description string
	Items       []StudyItem
}

// Client talks to the crowd-review platform API.
type Client struct {
	cfg        config.CrowdReview
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a crowd-review client from configuration.
func NewClient(cfg config.CrowdReview, opts ...Option) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Enabled reports whether the client has credentials to operate.
func (c *Client) Enabled() bool {
	return strings.TrimSpace(c.cfg.APIKey) != ""
}

// CreateStudy registers a study holding the batch's translations and returns
// the platform's study identifier.
func (c *Client) CreateStudy(ctx context.Context, req CreateStudyRequest) (string, error) {
	if !c.Enabled() {
		return "", services.Wrap(services.ErrConfiguration, "review", "create study", "crowd-review api key required", nil)
	}
	if len(req.Items) == 0 {
		return "", services.Wrap(services.ErrValidation, "review", "create study", "study needs at least one item", nil)
	}

	payload := map[string]any{
		"workspace_id": c.cfg.WorkspaceID,
		"name":         req.Name,
		"description":  req.Description,
		"items":        req.Items,
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/studies", payload, &created); err != nil {
		return "", services.Wrap(services.ErrExternalService, "review", "create study", "study creation failed", err)
	}
	if created.ID == "" {
		return "", services.Wrap(services.ErrExternalService, "review", "create study", "platform returned no study id", nil)
	}
	return created.ID, nil
}

// PublishStudy makes a created study visible to reviewers.
func (c *Client) PublishStudy(ctx context.Context, studyID string) error {
	if studyID == "" {
		return services.Wrap(services.ErrValidation, "review", "publish study", "study id required", nil)
	}
	payload := map[string]string{"action": "PUBLISH"}
	if err := c.do(ctx, http.MethodPost, "/studies/"+studyID+"/transition", payload, nil); err != nil {
		return services.Wrap(services.ErrExternalService, "review", "publish study", "publish failed", err)
	}
	return nil
}

// StudyStatus fetches the platform's view of a study.
func (c *Client) StudyStatus(ctx context.Context, studyID string) (string, error) {
	var study struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/studies/"+studyID, nil, &study); err != nil {
		return "", services.Wrap(services.ErrExternalService, "review", "study status", "status fetch failed", err)
	}
	return study.Status, nil
}

// HealthCheck verifies API credentials against the workspace endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.Enabled() {
		return errors.New("crowd-review api key required")
	}
	return c.do(ctx, http.MethodGet, "/workspaces/"+c.cfg.WorkspaceID, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, target any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.cfg.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if target != nil {
		if err := json.Unmarshal(data, target); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
