package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Pipeline contains the review-loop policy applied to new tasks that do not
// override it on submission.
type Pipeline struct {
	MaxReviewIterations int     `toml:"max_review_iterations"`
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	// RetranslateOnIteration controls whether a new review iteration requests
	// a fresh translation or reuses the existing translated text and re-enters
	// the loop at verification.
	RetranslateOnIteration bool `toml:"retranslate_on_iteration"`
}

// Workers contains worker pool sizing and scheduling intervals.
type Workers struct {
	Count             int `toml:"count"`
	InFlightPerWorker int `toml:"in_flight_per_worker"`
	PollInterval      int `toml:"poll_interval"`
	ReclaimInterval   int `toml:"reclaim_interval"`
	ClaimTimeout      int `toml:"claim_timeout"`
}

// Queue contains work queue retry policy.
type Queue struct {
	MaxRetries     int `toml:"max_retries"`
	RetryBaseDelay int `toml:"retry_base_delay"`
	RetryMaxDelay  int `toml:"retry_max_delay"`
}

// Webhooks contains event delivery settings.
type Webhooks struct {
	Enabled         bool   `toml:"enabled"`
	TargetURL       string `toml:"target_url"`
	Secret          string `toml:"secret"`
	Mode            string `toml:"mode"`
	AttemptTimeout  int    `toml:"attempt_timeout"`
	BackoffSchedule []int  `toml:"backoff_schedule"`
	FreshnessWindow int    `toml:"freshness_window"`
	DispatchBuffer  int    `toml:"dispatch_buffer"`
}

// Provider contains shared connection settings for an external HTTP provider.
type Provider struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// CrowdReview contains configuration for the human-review platform.
type CrowdReview struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	WorkspaceID    string `toml:"workspace_id"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	SweepInterval  int    `toml:"sweep_interval"`
}

// Relay contains configuration for the reliable-delivery fallback service.
type Relay struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for glossa.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Pipeline: review-loop policy defaults for new tasks
//   - Workers: worker pool sizing and sweep intervals
//   - Queue: work queue retry and backoff policy
//   - Webhooks: signed event delivery and relay fallback
//   - Translator / Scorer: external provider connection settings
//   - CrowdReview: human-review platform settings
//   - Relay: reliable-delivery fallback service
//   - Logging: log format and level
type Config struct {
	Paths       Paths       `toml:"paths"`
	Pipeline    Pipeline    `toml:"pipeline"`
	Workers     Workers     `toml:"workers"`
	Queue       Queue       `toml:"queue"`
	Webhooks    Webhooks    `toml:"webhooks"`
	Translator  Provider    `toml:"translator"`
	Scorer      Provider    `toml:"scorer"`
	CrowdReview CrowdReview `toml:"crowd_review"`
	Relay       Relay       `toml:"relay"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/glossa/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("glossa.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	c.Webhooks.Mode = strings.ToLower(strings.TrimSpace(c.Webhooks.Mode))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// WriteSample writes the embedded sample configuration to the given path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
