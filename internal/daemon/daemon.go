// Package daemon wires the store, worker pool, review manager, webhook
// deliverer, and HTTP API into a single-instance background process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"glossa/internal/config"
	"glossa/internal/logging"
	"glossa/internal/review"
	"glossa/internal/services/crowd"
	"glossa/internal/services/provider"
	"glossa/internal/services/relay"
	"glossa/internal/services/score"
	"glossa/internal/services/translate"
	"glossa/internal/stages"
	"glossa/internal/store"
	"glossa/internal/webhook"
	"glossa/internal/worker"
)

// Daemon coordinates the background services and enforces single-instance
// execution through a lock file.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store     *store.Store
	deps      *stages.Deps
	pool      *worker.Pool
	deliverer *webhook.Deliverer
	manager   *review.Manager
	relay     *relay.Client
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	managerDone chan struct{}
	running     atomic.Bool
	cancel      context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("prepare directories: %w", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	translator := translate.New(provider.NewClient(providerConfig(cfg.Translator)))
	scorer := score.New(provider.NewClient(providerConfig(cfg.Scorer)))
	relayClient := relay.NewClient(cfg.Relay)
	crowdClient := crowd.NewClient(cfg.CrowdReview)

	deliverer := webhook.NewDeliverer(cfg.Webhooks, st, relayClient, logger)
	deps := &stages.Deps{
		Store:      st,
		Translator: translator,
		Scorer:     scorer,
		Events:     deliverer,
		Cfg:        cfg,
		Logger:     logger,
	}
	pool := worker.NewPool(st, stages.NewHandlers(deps), cfg, logger,
		worker.WithFailureHandler(deps.FailSubTask))
	manager := review.NewManager(st, crowdClient, deliverer, cfg, logger)

	lockPath := filepath.Join(cfg.Paths.DataDir, "glossad.lock")
	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		deps:      deps,
		pool:      pool,
		deliverer: deliverer,
		manager:   manager,
		relay:     relayClient,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock and launches every background component.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another glossa daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.deliverer.Start(runCtx)
	d.pool.Start(runCtx)
	d.managerDone = make(chan struct{})
	go func() {
		defer close(d.managerDone)
		d.manager.Run(runCtx)
	}()

	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.pool.Wait()
		<-d.managerDone
		d.deliverer.Stop()
		_ = d.lock.Unlock()
		d.cancel = nil
		return err
	}

	d.running.Store(true)
	d.logger.Info("glossa daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("workers", d.pool.Stats().Workers))
	return nil
}

// Stop halts background processing, drains outbound events, and releases
// the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.pool.Wait()
	if d.managerDone != nil {
		<-d.managerDone
	}
	d.deliverer.Stop()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("glossa daemon stopped")
}

// Close stops the daemon and releases held resources.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether the daemon has been started.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Addr returns the bound API address, empty until Start succeeds.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

func providerConfig(p config.Provider) provider.Config {
	return provider.Config{
		APIKey:         p.APIKey,
		BaseURL:        p.BaseURL,
		Model:          p.Model,
		TimeoutSeconds: p.TimeoutSeconds,
	}
}
