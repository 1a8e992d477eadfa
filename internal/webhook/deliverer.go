package webhook

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"glossa/internal/config"
	"glossa/internal/logging"
	"glossa/internal/metrics"
	"glossa/internal/services/relay"
	"glossa/internal/store"
)

// AttemptRecorder persists delivery attempts for later inspection.
type AttemptRecorder interface {
	RecordWebhookAttempt(ctx context.Context, attempt *store.WebhookAttempt) error
}

// RelayScheduler hands deliveries to the reliable-delivery fallback.
type RelayScheduler interface {
	Schedule(ctx context.Context, delivery relay.Delivery) (string, error)
	Enabled() bool
}

// Deliverer dispatches signed events from a buffered queue. Publishing never
// blocks pipeline progress: when the buffer is full the event is dropped and
// counted.
type Deliverer struct {
	cfg      config.Webhooks
	signer   *Signer
	recorder AttemptRecorder
	relay    RelayScheduler
	logger   *slog.Logger

	httpClient *http.Client
	sleeper    func(time.Duration)

	events  chan Event
	wg      sync.WaitGroup
	started atomic.Bool
	dropped atomic.Int64

	// mu serializes Publish sends against the Stop close of the event
	// channel; stopped publishes are dropped instead of panicking.
	mu      sync.RWMutex
	stopped bool
}

// Option customizes the deliverer.
type Option func(*Deliverer)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Deliverer) {
		if client != nil {
			d.httpClient = client
		}
	}
}

// WithSleeper overrides how backoff sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(d *Deliverer) {
		d.sleeper = sleeper
	}
}

// NewDeliverer constructs an event deliverer. The relay scheduler may be nil
// when no relay is configured.
func NewDeliverer(cfg config.Webhooks, recorder AttemptRecorder, relayClient RelayScheduler, logger *slog.Logger, opts ...Option) *Deliverer {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := 10 * time.Second
	if cfg.AttemptTimeout > 0 {
		timeout = time.Duration(cfg.AttemptTimeout) * time.Second
	}
	buffer := cfg.DispatchBuffer
	if buffer <= 0 {
		buffer = 256
	}
	d := &Deliverer{
		cfg:        cfg,
		signer:     NewSigner(cfg.Secret),
		recorder:   recorder,
		relay:      relayClient,
		logger:     logger.With(logging.String(logging.FieldComponent, "webhook")),
		httpClient: &http.Client{Timeout: timeout},
		events:     make(chan Event, buffer),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the dispatch loop. It returns immediately.
func (d *Deliverer) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-d.events:
				if !ok {
					return
				}
				d.deliver(ctx, event)
			}
		}
	}()
}

// Stop drains the dispatch loop and waits for it to finish. Events published
// after Stop are dropped.
func (d *Deliverer) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.events)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Dropped reports how many events were discarded because the buffer was full.
func (d *Deliverer) Dropped() int64 {
	return d.dropped.Load()
}

// Publish enqueues an event for delivery. It never blocks: when webhooks are
// disabled the event is ignored, and when the buffer is full it is dropped.
func (d *Deliverer) Publish(event Event) {
	if !d.cfg.Enabled || d.cfg.TargetURL == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.dropped.Add(1)
		d.logger.Warn("deliverer stopped, dropping event",
			logging.String(logging.FieldEventType, event.Type),
			logging.String(logging.FieldTaskID, event.TaskID))
		return
	}
	select {
	case d.events <- event:
	default:
		d.dropped.Add(1)
		d.logger.Warn("event buffer full, dropping event",
			logging.String(logging.FieldEventType, event.Type),
			logging.String(logging.FieldTaskID, event.TaskID))
	}
}

func (d *Deliverer) deliver(ctx context.Context, event Event) {
	body, err := event.Encode()
	if err != nil {
		d.logger.Error("encode event", logging.Error(err),
			logging.String(logging.FieldEventType, event.Type))
		return
	}

	if d.cfg.Mode == "relay" {
		d.scheduleRelay(ctx, event, body, 1)
		return
	}

	attempt := 0
	for {
		attempt++
		switch d.sendOnce(ctx, event, body, attempt) {
		case sendOK:
			return
		case sendRejected:
			// The endpoint actively refused the payload. Retrying or
			// relaying the same body cannot succeed.
			return
		}
		if attempt > len(d.cfg.BackoffSchedule) {
			break
		}
		delay := time.Duration(d.cfg.BackoffSchedule[attempt-1]) * time.Second
		if !d.sleep(ctx, delay) {
			return
		}
	}

	if d.cfg.Mode == "hybrid" && d.relay != nil && d.relay.Enabled() {
		d.scheduleRelay(ctx, event, body, attempt+1)
		return
	}
	d.logger.Error("event delivery exhausted",
		logging.String(logging.FieldEventType, event.Type),
		logging.String(logging.FieldTaskID, event.TaskID),
		logging.Int("attempts", attempt))
}

type sendResult int

const (
	sendOK sendResult = iota
	sendRejected
	sendRetryable
)

func (d *Deliverer) sendOnce(ctx context.Context, event Event, body []byte, attempt int) sendResult {
	now := time.Now().UTC()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.TargetURL, bytes.NewReader(body))
	if err != nil {
		d.record(ctx, event, attempt, 0, store.AttemptFailed, err.Error())
		return sendRetryable
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range d.signedHeaders(event, body, now) {
		req.Header.Set(name, value)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.record(ctx, event, attempt, 0, store.AttemptFailed, err.Error())
		return sendRetryable
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		d.record(ctx, event, attempt, resp.StatusCode, store.AttemptDelivered, "")
		return sendOK
	case resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests:
		d.record(ctx, event, attempt, resp.StatusCode, store.AttemptFailed, "endpoint rejected event")
		d.logger.Warn("endpoint rejected event",
			logging.String(logging.FieldEventType, event.Type),
			logging.Int("status", resp.StatusCode))
		return sendRejected
	default:
		d.record(ctx, event, attempt, resp.StatusCode, store.AttemptFailed, "")
		return sendRetryable
	}
}

func (d *Deliverer) scheduleRelay(ctx context.Context, event Event, body []byte, attempt int) {
	if d.relay == nil || !d.relay.Enabled() {
		d.logger.Error("relay mode configured without relay credentials",
			logging.String(logging.FieldEventType, event.Type))
		return
	}
	headers := d.signedHeaders(event, body, time.Now().UTC())
	headers["Content-Type"] = "application/json"
	relayID, err := d.relay.Schedule(ctx, relay.Delivery{
		Name:    "webhook-" + event.ID,
		URL:     d.cfg.TargetURL,
		Headers: headers,
		Body:    string(body),
	})
	if err != nil {
		d.record(ctx, event, attempt, 0, store.AttemptFailed, "relay: "+err.Error())
		d.logger.Error("relay scheduling failed", logging.Error(err),
			logging.String(logging.FieldEventType, event.Type))
		return
	}
	d.record(ctx, event, attempt, 0, store.AttemptRelayed, "relay task "+relayID)
	d.logger.Info("event handed to relay",
		logging.String(logging.FieldEventType, event.Type),
		logging.String(logging.FieldTaskID, event.TaskID),
		logging.String("relay_task_id", relayID))
}

func (d *Deliverer) signedHeaders(event Event, body []byte, at time.Time) map[string]string {
	return map[string]string{
		HeaderSignature: d.signer.Sign(body, at),
		HeaderTimestamp: d.signer.Timestamp(at),
		HeaderEventID:   event.ID,
		HeaderEventType: event.Type,
	}
}

func (d *Deliverer) record(ctx context.Context, event Event, attempt, statusCode int, outcome, errMsg string) {
	metrics.WebhookAttempt(outcome)
	if d.recorder == nil {
		return
	}
	mode := d.cfg.Mode
	if mode == "" {
		mode = "direct"
	}
	rec := &store.WebhookAttempt{
		EventID:    event.ID,
		EventType:  event.Type,
		TaskID:     event.TaskID,
		Language:   event.Language,
		TargetURL:  d.cfg.TargetURL,
		Mode:       mode,
		Attempt:    attempt,
		StatusCode: statusCode,
		Outcome:    outcome,
		ErrorMsg:   errMsg,
	}
	if err := d.recorder.RecordWebhookAttempt(ctx, rec); err != nil {
		d.logger.Warn("record webhook attempt", logging.Error(err))
	}
}

func (d *Deliverer) sleep(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	if d.sleeper != nil {
		d.sleeper(delay)
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
