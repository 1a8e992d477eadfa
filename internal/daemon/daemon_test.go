package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"glossa/internal/api"
	"glossa/internal/config"
	"glossa/internal/task"
	"glossa/internal/testsupport"
)

// fakeProvider serves chat completions that always return the given JSON
// payload as the assistant message.
func fakeProvider(t *testing.T, payload string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": payload}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestDaemon(t *testing.T, opts ...testsupport.ConfigOption) *Daemon {
	t.Helper()
	translator := fakeProvider(t, `{"translation": "El rapido zorro marron."}`)
	scorer := fakeProvider(t, `{"score": 4.8, "confidence": 0.9, "feedback": []}`)

	opts = append([]testsupport.ConfigOption{func(cfg *config.Config) {
		cfg.Translator.BaseURL = translator.URL
		cfg.Scorer.BaseURL = scorer.URL
		cfg.Workers.PollInterval = 1
		cfg.Paths.APIToken = "test-token"
	}}, opts...)
	cfg := testsupport.NewConfig(t, opts...)

	d, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func (d *Daemon) testRequest(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, "http://"+d.Addr()+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer test-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeTask(t *testing.T, resp *http.Response) *task.Task {
	t.Helper()
	var got task.Task
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	return &got
}

func TestDaemonStartStop(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !d.Running() {
		t.Fatal("daemon not running after start")
	}
	if d.Addr() == "" {
		t.Fatal("api address empty after start")
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("second start succeeded, want already-running error")
	}
	d.Stop()
	if d.Running() {
		t.Fatal("daemon still running after stop")
	}
}

func TestHealthEndpointUnauthenticated(t *testing.T) {
	d := newTestDaemon(t)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	resp, err := http.Get("http://" + d.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestAPIRejectsMissingToken(t *testing.T) {
	d := newTestDaemon(t)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	resp, err := http.Get("http://" + d.Addr() + "/api/v1/tasks")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d without token, want 401", resp.StatusCode)
	}
}

func TestSubmitValidation(t *testing.T) {
	d := newTestDaemon(t)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	resp := d.testRequest(t, http.MethodPost, "/api/v1/tasks", api.SubmitRequest{
		SourceText: "",
		Languages:  []string{"es"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d for empty source text, want 400", resp.StatusCode)
	}
}

func TestSubmittedTaskRunsToCompletion(t *testing.T) {
	d := newTestDaemon(t)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	resp := d.testRequest(t, http.MethodPost, "/api/v1/tasks", api.SubmitRequest{
		SourceText:     "The quick brown fox.",
		SourceLanguage: "en",
		Languages:      []string{"es"},
		Editorial:      task.EditorialContext{Tone: "neutral"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d, want 201", resp.StatusCode)
	}
	created := decodeTask(t, resp)
	if created.Status != task.StatusPending {
		t.Fatalf("created status = %s, want pending", created.Status)
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		resp := d.testRequest(t, http.MethodGet, fmt.Sprintf("/api/v1/tasks/%s", created.ID), nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get task status = %d", resp.StatusCode)
		}
		got := decodeTask(t, resp)
		if got.Status == task.StatusCompleted {
			sub := got.SubTasks["es"]
			if sub.Status != task.SubTaskFinalized {
				t.Fatalf("sub-task status = %s, want finalized", sub.Status)
			}
			if sub.TranslatedText != "El rapido zorro marron." {
				t.Fatalf("translated text = %q", sub.TranslatedText)
			}
			return
		}
		if got.Status == task.StatusFailed {
			t.Fatalf("task failed: %s", got.ErrorMessage)
		}
		if time.Now().After(deadline) {
			t.Fatalf("task stuck in status %s", got.Status)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestQueueStatsEndpoint(t *testing.T) {
	d := newTestDaemon(t)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	resp := d.testRequest(t, http.MethodGet, "/api/v1/queue/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("queue stats status = %d, want 200", resp.StatusCode)
	}
	var stats api.QueueStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Queue == nil || stats.Tasks == nil {
		t.Fatalf("stats = %+v, want populated maps", stats)
	}
	if len(stats.Workers.PerWorker) != stats.Workers.Workers {
		t.Fatalf("per-worker entries = %d, want %d", len(stats.Workers.PerWorker), stats.Workers.Workers)
	}
}

func TestDeleteTask(t *testing.T) {
	d := newTestDaemon(t)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	resp := d.testRequest(t, http.MethodPost, "/api/v1/tasks", api.SubmitRequest{
		SourceText: "Delete me.",
		Languages:  []string{"fr"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	created := decodeTask(t, resp)

	del := d.testRequest(t, http.MethodDelete, fmt.Sprintf("/api/v1/tasks/%s", created.ID), nil)
	if del.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", del.StatusCode)
	}
	missing := d.testRequest(t, http.MethodGet, fmt.Sprintf("/api/v1/tasks/%s", created.ID), nil)
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", missing.StatusCode)
	}
}

func TestAPIAssignsAndEchoesRequestID(t *testing.T) {
	d := newTestDaemon(t)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	resp := d.testRequest(t, http.MethodGet, "/healthz", nil)
	if resp.Header.Get(HeaderRequestID) == "" {
		t.Fatal("response missing generated request id")
	}

	req, err := http.NewRequest(http.MethodGet, "http://"+d.Addr()+"/healthz", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set(HeaderRequestID, "corr-42")
	echoed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer echoed.Body.Close()
	if got := echoed.Header.Get(HeaderRequestID); got != "corr-42" {
		t.Fatalf("request id = %q, want corr-42", got)
	}
}
