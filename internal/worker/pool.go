// Package worker runs the pool that drains the work queue and dispatches
// messages to stage handlers.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"glossa/internal/config"
	"glossa/internal/logging"
	"glossa/internal/metrics"
	"glossa/internal/services"
	"glossa/internal/stage"
	"glossa/internal/store"
)

// FailureHandler marks the addressed sub-task failed when a message is
// dead-lettered.
type FailureHandler func(ctx context.Context, msg *store.QueueMessage, cause error) error

// Stats is a snapshot of pool activity counters.
type Stats struct {
	Workers      int              `json:"workers"`
	Processed    int64            `json:"processed"`
	Retried      int64            `json:"retried"`
	DeadLettered int64            `json:"dead_lettered"`
	Reclaimed    int64            `json:"reclaimed"`
	PerWorker    []WorkerCounters `json:"per_worker"`
}

// WorkerCounters is one worker's activity snapshot.
type WorkerCounters struct {
	Worker    string `json:"worker"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
	InFlight  int64  `json:"in_flight"`
}

type workerState struct {
	id        string
	processed atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
}

// Pool claims queue messages and drives them through stage handlers. Each
// worker claims up to its in-flight cap per poll and dispatches every
// claimed message as its own goroutine, so the cap bounds concurrency
// rather than batch size.
type Pool struct {
	store     *store.Store
	handlers  map[store.Stage]stage.Handler
	workers   config.Workers
	queueCfg  config.Queue
	onFailure FailureHandler
	logger    *slog.Logger

	states  []*workerState
	wg      sync.WaitGroup
	started atomic.Bool

	processed    atomic.Int64
	retried      atomic.Int64
	deadLettered atomic.Int64
	reclaimed    atomic.Int64
}

// Option customizes the pool.
type Option func(*Pool)

// WithFailureHandler installs the callback invoked when a message is
// dead-lettered.
func WithFailureHandler(handler FailureHandler) Option {
	return func(p *Pool) {
		p.onFailure = handler
	}
}

// NewPool constructs a worker pool.
func NewPool(st *store.Store, handlers map[store.Stage]stage.Handler, cfg *config.Config, logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Pool{
		store:    st,
		handlers: handlers,
		workers:  cfg.Workers,
		queueCfg: cfg.Queue,
		logger:   logger.With(logging.String(logging.FieldComponent, "worker")),
	}
	for _, opt := range opts {
		opt(p)
	}
	count := p.workers.Count
	if count <= 0 {
		count = 1
	}
	p.states = make([]*workerState, count)
	for i := range p.states {
		p.states[i] = &workerState{id: fmt.Sprintf("worker-%d", i+1)}
	}
	return p
}

// Start launches the workers and the reclaim sweeper. It returns
// immediately; Wait blocks until all goroutines exit.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for _, state := range p.states {
		state := state
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runWorker(ctx, state)
		}()
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runReclaimer(ctx)
	}()
}

// Wait blocks until every worker goroutine has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Stats returns a snapshot of pool and per-worker counters.
func (p *Pool) Stats() Stats {
	perWorker := make([]WorkerCounters, len(p.states))
	for i, state := range p.states {
		perWorker[i] = WorkerCounters{
			Worker:    state.id,
			Processed: state.processed.Load(),
			Failed:    state.failed.Load(),
			InFlight:  state.inFlight.Load(),
		}
	}
	return Stats{
		Workers:      len(p.states),
		Processed:    p.processed.Load(),
		Retried:      p.retried.Load(),
		DeadLettered: p.deadLettered.Load(),
		Reclaimed:    p.reclaimed.Load(),
		PerWorker:    perWorker,
	}
}

// Health reports the readiness of every registered stage handler.
func (p *Pool) Health(ctx context.Context) []stage.Health {
	healths := make([]stage.Health, 0, len(p.handlers))
	for _, handler := range p.handlers {
		healths = append(healths, handler.HealthCheck(ctx))
	}
	return healths
}

func (p *Pool) runWorker(ctx context.Context, state *workerState) {
	logger := p.logger.With(logging.String(logging.FieldWorkerID, state.id))
	poll := time.Duration(p.workers.PollInterval) * time.Second
	if poll <= 0 {
		poll = 2 * time.Second
	}
	lease := time.Duration(p.workers.ClaimTimeout) * time.Second
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	inFlight := p.workers.InFlightPerWorker
	if inFlight <= 0 {
		inFlight = 1
	}

	for {
		if ctx.Err() != nil {
			return
		}
		claimed, err := p.store.Claim(ctx, state.id, inFlight, lease)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("claim messages", logging.Error(err))
		}
		var batch sync.WaitGroup
		for _, msg := range claimed {
			msg := msg
			batch.Add(1)
			go func() {
				defer batch.Done()
				p.process(ctx, state, msg)
			}()
		}
		batch.Wait()
		if len(claimed) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(poll):
		}
	}
}

func (p *Pool) process(ctx context.Context, state *workerState, msg *store.QueueMessage) {
	workerID := state.id
	ctx = services.WithWorkerID(ctx, workerID)
	ctx = services.WithTaskID(ctx, msg.TaskID)
	ctx = services.WithLanguage(ctx, msg.Language)
	ctx = services.WithStage(ctx, string(msg.Stage))
	logger := logging.WithContext(ctx, p.logger)

	metrics.MessageClaimed(1)
	state.inFlight.Add(1)
	defer func() {
		metrics.MessageClaimed(-1)
		state.inFlight.Add(-1)
	}()

	handler, ok := p.handlers[msg.Stage]
	if !ok {
		state.failed.Add(1)
		p.deadLetter(ctx, msg, workerID, fmt.Errorf("no handler for stage %q", msg.Stage))
		return
	}

	start := time.Now()
	err := handler.Execute(ctx, msg)
	metrics.ObserveStageDuration(string(msg.Stage), time.Since(start).Seconds())

	switch {
	case err == nil:
		if ackErr := p.store.Ack(ctx, msg.ID, workerID); ackErr != nil {
			// Claim expired mid-flight; the message will be redelivered and
			// the stage guards will absorb the duplicate.
			logger.Warn("ack failed", logging.Error(ackErr))
			return
		}
		p.processed.Add(1)
		state.processed.Add(1)
		metrics.StageProcessed(string(msg.Stage), "ok")
	case services.IsPermanent(err):
		logger.Error("permanent stage failure", logging.Error(err))
		state.failed.Add(1)
		p.deadLetter(ctx, msg, workerID, err)
	default:
		delay := p.retryDelay(msg.Attempt)
		deadLettered, retryErr := p.store.Retry(ctx, msg, workerID, err.Error(), delay, p.queueCfg.MaxRetries)
		if retryErr != nil {
			logger.Error("retry message", logging.Error(retryErr))
			return
		}
		if deadLettered {
			logger.Error("retry budget exhausted", logging.Error(err),
				logging.Int("attempts", msg.Attempt+1))
			p.deadLettered.Add(1)
			state.failed.Add(1)
			metrics.StageProcessed(string(msg.Stage), "dead_letter")
			p.failSubTask(ctx, msg, err)
			return
		}
		logger.Warn("transient stage failure, retrying", logging.Error(err),
			logging.Int("attempt", msg.Attempt),
			logging.Duration("delay", delay))
		p.retried.Add(1)
		metrics.StageProcessed(string(msg.Stage), "retry")
	}
}

// deadLetter moves a message straight to the dead-letter table without
// consuming retry budget.
func (p *Pool) deadLetter(ctx context.Context, msg *store.QueueMessage, workerID string, cause error) {
	if _, err := p.store.Retry(ctx, msg, workerID, cause.Error(), 0, 0); err != nil {
		p.logger.Error("dead-letter message", logging.Error(err))
		return
	}
	p.deadLettered.Add(1)
	metrics.StageProcessed(string(msg.Stage), "dead_letter")
	p.failSubTask(ctx, msg, cause)
}

func (p *Pool) failSubTask(ctx context.Context, msg *store.QueueMessage, cause error) {
	if p.onFailure == nil {
		return
	}
	if err := p.onFailure(ctx, msg, cause); err != nil {
		p.logger.Error("mark sub-task failed", logging.Error(err))
	}
}

// retryDelay doubles the base delay per consumed attempt, capped at the
// configured maximum.
func (p *Pool) retryDelay(attempt int) time.Duration {
	base := time.Duration(p.queueCfg.RetryBaseDelay) * time.Second
	if base <= 0 {
		base = time.Second
	}
	maxDelay := time.Duration(p.queueCfg.RetryMaxDelay) * time.Second
	if maxDelay <= 0 {
		maxDelay = 2 * time.Minute
	}
	delay := base
	for i := 0; i < attempt; i++ {
		if delay > maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (p *Pool) runReclaimer(ctx context.Context) {
	interval := time.Duration(p.workers.ReclaimInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := p.store.ReclaimExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error("reclaim expired claims", logging.Error(err))
				}
				continue
			}
			if reclaimed > 0 {
				p.reclaimed.Add(reclaimed)
				p.logger.Info("reclaimed expired claims", logging.Int64("count", reclaimed))
			}
			p.publishQueueDepths(ctx)
		}
	}
}

func (p *Pool) publishQueueDepths(ctx context.Context) {
	depths, err := p.store.QueueDepths(ctx)
	if err != nil {
		return
	}
	for _, stageName := range []store.Stage{store.StageTranslate, store.StageVerify, store.StageReview} {
		metrics.SetQueueDepth(string(stageName), depths[stageName])
	}
}
