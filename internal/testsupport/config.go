// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"glossa/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Translator.APIKey = "test"
	cfg.Scorer.APIKey = "test"

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithWebhooks enables signed webhook delivery on the test config.
func WithWebhooks(targetURL, secret string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Webhooks.Enabled = true
		cfg.Webhooks.TargetURL = targetURL
		cfg.Webhooks.Secret = secret
	}
}

// WithCrowdReview points the crowd-review client at a test server.
func WithCrowdReview(baseURL string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.CrowdReview.APIKey = "test"
		cfg.CrowdReview.BaseURL = baseURL
		cfg.CrowdReview.WorkspaceID = "ws-test"
	}
}
