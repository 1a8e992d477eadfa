package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"glossa/internal/config"
	"glossa/internal/services/relay"
	"glossa/internal/store"
)

type memoryRecorder struct {
	mu       sync.Mutex
	attempts []*store.WebhookAttempt
}

func (m *memoryRecorder) RecordWebhookAttempt(_ context.Context, attempt *store.WebhookAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, attempt)
	return nil
}

func (m *memoryRecorder) all() []*store.WebhookAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*store.WebhookAttempt(nil), m.attempts...)
}

type fakeRelay struct {
	enabled    bool
	err        error
	deliveries []relay.Delivery
}

func (f *fakeRelay) Enabled() bool { return f.enabled }

func (f *fakeRelay) Schedule(_ context.Context, d relay.Delivery) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.deliveries = append(f.deliveries, d)
	return "relay-task-1", nil
}

func webhookAttemptCount(t *testing.T, outcome string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != "glossa_webhook_attempts_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == outcome {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func webhookConfig(targetURL string) config.Webhooks {
	return config.Webhooks{
		Enabled:         true,
		TargetURL:       targetURL,
		Secret:          "secret",
		Mode:            "direct",
		AttemptTimeout:  2,
		BackoffSchedule: []int{1, 5, 15},
		FreshnessWindow: 300,
		DispatchBuffer:  8,
	}
}

func TestDeliverSignsAndDelivers(t *testing.T) {
	recorder := &memoryRecorder{}
	signer := NewSigner("secret")
	var verified atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		err = signer.Verify(body, r.Header.Get(HeaderTimestamp), r.Header.Get(HeaderSignature),
			5*time.Minute, time.Now().UTC())
		if err != nil {
			t.Errorf("signature verification: %v", err)
		} else {
			verified.Store(true)
		}
		if r.Header.Get(HeaderEventType) != EventSubTaskFinalized {
			t.Errorf("event type header = %q", r.Header.Get(HeaderEventType))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDeliverer(webhookConfig(server.URL), recorder, nil, nil,
		WithSleeper(func(time.Duration) {}))
	event := NewEvent(EventSubTaskFinalized, "task-1", "de", map[string]any{"final_reason": "threshold_met"})
	deliveredBefore := webhookAttemptCount(t, store.AttemptDelivered)
	d.deliver(context.Background(), event)

	if !verified.Load() {
		t.Fatal("endpoint never verified a signature")
	}
	attempts := recorder.all()
	if len(attempts) != 1 || attempts[0].Outcome != store.AttemptDelivered {
		t.Fatalf("attempts = %+v", attempts)
	}
	if got := webhookAttemptCount(t, store.AttemptDelivered) - deliveredBefore; got != 1 {
		t.Fatalf("delivered attempt metric delta = %v, want 1", got)
	}
}

func TestDeliverRetriesOnServerError(t *testing.T) {
	recorder := &memoryRecorder{}
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	var slept []time.Duration
	d := NewDeliverer(webhookConfig(server.URL), recorder, nil, nil,
		WithSleeper(func(delay time.Duration) { slept = append(slept, delay) }))
	d.deliver(context.Background(), NewEvent(EventTaskCompleted, "task-1", "", nil))

	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
	if len(slept) != 2 || slept[0] != time.Second || slept[1] != 5*time.Second {
		t.Fatalf("sleeps = %v", slept)
	}
	attempts := recorder.all()
	if len(attempts) != 3 || attempts[2].Outcome != store.AttemptDelivered {
		t.Fatalf("attempts = %+v", attempts)
	}
}

func TestDeliverStopsOnClientError(t *testing.T) {
	recorder := &memoryRecorder{}
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	d := NewDeliverer(webhookConfig(server.URL), recorder, nil, nil,
		WithSleeper(func(time.Duration) {}))
	d.deliver(context.Background(), NewEvent(EventTaskCompleted, "task-1", "", nil))

	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	attempts := recorder.all()
	if len(attempts) != 1 || attempts[0].Outcome != store.AttemptFailed || attempts[0].StatusCode != http.StatusBadRequest {
		t.Fatalf("attempts = %+v", attempts)
	}
}

func TestHybridFallsBackToRelayAfterExhaustion(t *testing.T) {
	recorder := &memoryRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := webhookConfig(server.URL)
	cfg.Mode = "hybrid"
	relayClient := &fakeRelay{enabled: true}
	d := NewDeliverer(cfg, recorder, relayClient, nil,
		WithSleeper(func(time.Duration) {}))
	d.deliver(context.Background(), NewEvent(EventSubTaskFailed, "task-1", "fr", nil))

	if len(relayClient.deliveries) != 1 {
		t.Fatalf("relay deliveries = %d, want 1", len(relayClient.deliveries))
	}
	delivery := relayClient.deliveries[0]
	if delivery.URL != server.URL {
		t.Fatalf("relay url = %q", delivery.URL)
	}
	if delivery.Headers[HeaderSignature] == "" || delivery.Headers[HeaderTimestamp] == "" {
		t.Fatalf("relay delivery missing signature headers: %v", delivery.Headers)
	}

	attempts := recorder.all()
	// 4 direct attempts plus the relay hand-off
	if len(attempts) != 5 {
		t.Fatalf("attempts = %d, want 5", len(attempts))
	}
	if attempts[4].Outcome != store.AttemptRelayed {
		t.Fatalf("final outcome = %q", attempts[4].Outcome)
	}
}

func TestRelayModeSkipsDirectDelivery(t *testing.T) {
	recorder := &memoryRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("direct delivery attempted in relay mode")
	}))
	defer server.Close()

	cfg := webhookConfig(server.URL)
	cfg.Mode = "relay"
	relayClient := &fakeRelay{enabled: true}
	d := NewDeliverer(cfg, recorder, relayClient, nil)
	d.deliver(context.Background(), NewEvent(EventReviewQueued, "task-1", "de", nil))

	if len(relayClient.deliveries) != 1 {
		t.Fatalf("relay deliveries = %d, want 1", len(relayClient.deliveries))
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	cfg := webhookConfig("http://127.0.0.1:0")
	cfg.DispatchBuffer = 1
	d := NewDeliverer(cfg, nil, nil, nil)

	// Not started, so nothing drains the buffer.
	d.Publish(NewEvent(EventTaskCompleted, "task-1", "", nil))
	d.Publish(NewEvent(EventTaskCompleted, "task-2", "", nil))

	if d.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", d.Dropped())
	}
}

func TestStartStopDrainsQueue(t *testing.T) {
	recorder := &memoryRecorder{}
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDeliverer(webhookConfig(server.URL), recorder, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	d.Publish(NewEvent(EventTranslationCompleted, "task-1", "de", nil))

	deadline := time.After(5 * time.Second)
	for calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("event never delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}
	d.Stop()
}

func TestPublishAfterStopIsDropped(t *testing.T) {
	d := NewDeliverer(webhookConfig("http://127.0.0.1:0"), nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	d.Stop()

	d.Publish(NewEvent(EventTaskCompleted, "task-1", "", nil))
	if d.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", d.Dropped())
	}

	// Stopping again must stay a no-op.
	d.Stop()
}
