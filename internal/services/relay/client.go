// Package relay schedules webhook deliveries through a managed task-queue
// service when direct delivery keeps failing.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"glossa/internal/config"
	"glossa/internal/services"
)

const defaultTimeout = 15 * time.Second

// Delivery describes one HTTP request the relay should deliver on our behalf.
type Delivery struct {
	Name    string
	URL     string
	Headers map[string]string
	Body    string
	Delay   time.Duration
}

// Client talks to the relay service API.
type Client struct {
	cfg        config.Relay
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

// NewClient constructs a relay client from configuration.
func NewClient(cfg config.Relay, opts ...Option) *Client {
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

// Schedule hands a delivery to the relay and returns the relay's task id. The
// relay retries with its own policy until the target accepts the request.
func (c *Client) Schedule(ctx context.Context, delivery Delivery) (string, error) {
	if !c.Enabled() {
		return "", services.Wrap(services.ErrConfiguration, "webhook", "relay", "relay api key required", nil)
	}
	if delivery.URL == "" {
		return "", services.Wrap(services.ErrValidation, "webhook", "relay", "delivery url required", nil)
	}

	headers := make([]map[string]string, 0, len(delivery.Headers))
	for name, value := range delivery.Headers {
		headers = append(headers, map[string]string{"name": name, "value": value})
	}
	payload := map[string]any{
		"name": delivery.Name,
		"request": map[string]any{
			"url":     delivery.URL,
			"method":  http.MethodPost,
			"headers": headers,
			"body":    delivery.Body,
		},
	}
	if delivery.Delay > 0 {
		payload["delay"] = delivery.Delay.String()
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "webhook", "relay", "encode delivery", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/tasks", bytes.NewReader(encoded))
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "webhook", "relay", "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, "webhook", "relay", "schedule request failed", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, "webhook", "relay", "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", services.Wrap(services.ErrExternalService, "webhook", "relay",
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(data))), nil)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return "", services.Wrap(services.ErrExternalService, "webhook", "relay", "decode response", err)
	}
	return created.ID, nil
}

// DeadLetter is a relay delivery that exhausted the relay's own retry policy.
type DeadLetter struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}

// ListDeadLetters returns relay deliveries that the relay gave up on.
func (c *Client) ListDeadLetters(ctx context.Context) ([]DeadLetter, error) {
	if !c.Enabled() {
		return nil, services.Wrap(services.ErrConfiguration, "webhook", "relay", "relay api key required", nil)
	}
	data, err := c.do(ctx, http.MethodGet, "/dead-letters", nil)
	if err != nil {
		return nil, err
	}
	var listing struct {
		DeadLetters []DeadLetter `json:"dead_letters"`
	}
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, services.Wrap(services.ErrExternalService, "webhook", "relay", "decode response", err)
	}
	return listing.DeadLetters, nil
}

// RetryDeadLetter asks the relay to replay a dead-lettered delivery.
func (c *Client) RetryDeadLetter(ctx context.Context, id string) error {
	if !c.Enabled() {
		return services.Wrap(services.ErrConfiguration, "webhook", "relay", "relay api key required", nil)
	}
	if strings.TrimSpace(id) == "" {
		return services.Wrap(services.ErrValidation, "webhook", "relay", "dead letter id required", nil)
	}
	_, err := c.do(ctx, http.MethodPost, "/dead-letters/"+id+"/retry", nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method,
		strings.TrimRight(c.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "webhook", "relay", "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "webhook", "relay", "request failed", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "webhook", "relay", "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, services.Wrap(services.ErrExternalService, "webhook", "relay",
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(data))), nil)
	}
	return data, nil
}
