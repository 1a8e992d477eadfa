package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"glossa/internal/config"
	"glossa/internal/services"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.Relay{APIKey: "key", BaseURL: server.URL})
}

func TestScheduleSendsSignedDelivery(t *testing.T) {
	var received struct {
		Name    string `json:"name"`
		Request struct {
			URL     string              `json:"url"`
			Method  string              `json:"method"`
			Headers []map[string]string `json:"headers"`
			Body    string              `json:"body"`
		} `json:"request"`
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "relay-123"})
	})

	id, err := client.Schedule(context.Background(), Delivery{
		Name:    "subtask.finalized",
		URL:     "https://receiver.example/hook",
		Headers: map[string]string{"X-Glossa-Signature": "abc"},
		Body:    `{"event":"subtask.finalized"}`,
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if id != "relay-123" {
		t.Errorf("id = %q, want relay-123", id)
	}
	if received.Request.URL != "https://receiver.example/hook" {
		t.Errorf("url = %q", received.Request.URL)
	}
	if received.Request.Method != http.MethodPost {
		t.Errorf("method = %q", received.Request.Method)
	}
	if len(received.Request.Headers) != 1 || received.Request.Headers[0]["name"] != "X-Glossa-Signature" {
		t.Errorf("headers = %v", received.Request.Headers)
	}
}

func TestScheduleWithoutCredentialsIsConfigurationError(t *testing.T) {
	client := NewClient(config.Relay{})
	_, err := client.Schedule(context.Background(), Delivery{URL: "https://receiver.example"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestListDeadLetters(t *testing.T) {
	failedAt := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/dead-letters" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"dead_letters": []map[string]any{
				{
					"id":         "dl-1",
					"name":       "subtask.failed",
					"url":        "https://receiver.example/hook",
					"last_error": "http 503",
					"failed_at":  failedAt,
				},
			},
		})
	})

	letters, err := client.ListDeadLetters(context.Background())
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("got %d dead letters, want 1", len(letters))
	}
	if letters[0].ID != "dl-1" || letters[0].LastError != "http 503" {
		t.Errorf("dead letter = %+v", letters[0])
	}
	if !letters[0].FailedAt.Equal(failedAt) {
		t.Errorf("failed_at = %v, want %v", letters[0].FailedAt, failedAt)
	}
}

func TestRetryDeadLetter(t *testing.T) {
	var path string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.RetryDeadLetter(context.Background(), "dl-1"); err != nil {
		t.Fatalf("RetryDeadLetter: %v", err)
	}
	if path != "/dead-letters/dl-1/retry" {
		t.Errorf("path = %q", path)
	}
}

func TestRetryDeadLetterSurfacesServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	err := client.RetryDeadLetter(context.Background(), "dl-1")
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("err = %v, want ErrExternalService", err)
	}
}
