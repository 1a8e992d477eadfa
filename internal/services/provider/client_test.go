package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func completionBody(t *testing.T, content string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	if err != nil {
		t.Fatalf("marshal completion: %v", err)
	}
	return body
}

func TestCompleteJSONReturnsContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("authorization header = %q", got)
		}
		var req struct {
			ResponseFormat map[string]string `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat["type"] != "json_object" {
			t.Errorf("response format = %v", req.ResponseFormat)
		}
		w.Write(completionBody(t, `{"ok":true}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "key", BaseURL: server.URL, Model: "test-model"})
	content, err := client.CompleteJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if content != `{"ok":true}` {
		t.Fatalf("content = %q", content)
	}
}

func TestCompleteJSONRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(completionBody(t, `{"ok":true}`))
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(Config{APIKey: "key", BaseURL: server.URL, Model: "test-model"},
		WithRetryBackoff(time.Second, 10*time.Second),
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }))

	if _, err := client.CompleteJSON(context.Background(), "system", "user"); err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
	if len(slept) != 2 || slept[0] != time.Second || slept[1] != 2*time.Second {
		t.Fatalf("sleeps = %v", slept)
	}
}

func TestCompleteJSONHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(completionBody(t, `{}`))
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(Config{APIKey: "key", BaseURL: server.URL, Model: "test-model"},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }))

	if _, err := client.CompleteJSON(context.Background(), "system", "user"); err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if len(slept) != 1 || slept[0] != 3*time.Second {
		t.Fatalf("sleeps = %v", slept)
	}
}

func TestCompleteJSONStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "key", BaseURL: server.URL, Model: "test-model"},
		WithSleeper(func(time.Duration) {}))

	_, err := client.CompleteJSON(context.Background(), "system", "user")
	if err == nil {
		t.Fatal("expected error for 401")
	}
	if !IsClientError(err) {
		t.Fatalf("IsClientError = false for %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestDecodeModelJSON(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"plain", `{"value": 1}`},
		{"fenced", "```json\n{\"value\": 1}\n```"},
		{"prose wrapped", "Here is the result: {\"value\": 1} as requested"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var parsed struct {
				Value int `json:"value"`
			}
			if err := DecodeModelJSON(tc.payload, &parsed); err != nil {
				t.Fatalf("DecodeModelJSON: %v", err)
			}
			if parsed.Value != 1 {
				t.Fatalf("value = %d", parsed.Value)
			}
		})
	}
	if err := DecodeModelJSON("", &struct{}{}); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
