package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateWebhooks(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.MaxReviewIterations < 1 {
		return errors.New("pipeline.max_review_iterations must be at least 1")
	}
	if c.Pipeline.ConfidenceThreshold < 1 || c.Pipeline.ConfidenceThreshold > 5 {
		return errors.New("pipeline.confidence_threshold must be between 1 and 5")
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Workers.Count < 1 {
		return errors.New("workers.count must be at least 1")
	}
	if c.Workers.InFlightPerWorker < 1 {
		return errors.New("workers.in_flight_per_worker must be at least 1")
	}
	if c.Workers.PollInterval < 1 {
		return errors.New("workers.poll_interval must be at least 1 second")
	}
	if c.Workers.ClaimTimeout < 1 {
		return errors.New("workers.claim_timeout must be at least 1 second")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.MaxRetries < 0 {
		return errors.New("queue.max_retries must not be negative")
	}
	if c.Queue.RetryBaseDelay < 1 {
		return errors.New("queue.retry_base_delay must be at least 1 second")
	}
	if c.Queue.RetryMaxDelay < c.Queue.RetryBaseDelay {
		return errors.New("queue.retry_max_delay must not be below queue.retry_base_delay")
	}
	return nil
}

func (c *Config) validateWebhooks() error {
	if !c.Webhooks.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Webhooks.TargetURL) == "" {
		return errors.New("webhooks.target_url is required when webhooks are enabled")
	}
	if strings.TrimSpace(c.Webhooks.Secret) == "" {
		return errors.New("webhooks.secret is required when webhooks are enabled")
	}
	switch c.Webhooks.Mode {
	case "direct", "relay", "hybrid":
	default:
		return fmt.Errorf("webhooks.mode must be direct, relay, or hybrid (got %q)", c.Webhooks.Mode)
	}
	if c.Webhooks.Mode != "direct" && strings.TrimSpace(c.Relay.BaseURL) == "" {
		return errors.New("relay.base_url is required for relay or hybrid webhook delivery")
	}
	if len(c.Webhooks.BackoffSchedule) == 0 {
		return errors.New("webhooks.backoff_schedule must name at least one delay")
	}
	last := 0
	for _, delay := range c.Webhooks.BackoffSchedule {
		if delay < 0 {
			return errors.New("webhooks.backoff_schedule delays must not be negative")
		}
		if delay < last {
			return errors.New("webhooks.backoff_schedule delays must be non-decreasing")
		}
		last = delay
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "text", "console", "json":
	default:
		return fmt.Errorf("logging.format must be text or json (got %q)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error (got %q)", c.Logging.Level)
	}
	return nil
}
