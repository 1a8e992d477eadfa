package config

const (
	defaultDataDir             = "~/.local/share/glossa/data"
	defaultLogDir              = "~/.local/share/glossa/logs"
	defaultAPIBind             = "127.0.0.1:7419"
	defaultMaxReviewIterations = 3
	defaultConfidenceThreshold = 3.5
	defaultWorkerCount         = 2
	defaultInFlightPerWorker   = 4
	defaultPollInterval        = 2
	defaultReclaimInterval     = 30
	defaultClaimTimeout        = 300
	defaultQueueMaxRetries     = 5
	defaultRetryBaseDelay      = 2
	defaultRetryMaxDelay       = 120
	defaultWebhookMode         = "hybrid"
	defaultAttemptTimeout      = 10
	defaultFreshnessWindow     = 300
	defaultDispatchBuffer      = 256
	defaultTranslatorBaseURL   = "https://openrouter.ai/api/v1/chat/completions"
	defaultTranslatorModel     = "google/gemini-3-flash-preview"
	defaultScorerBaseURL       = "https://openrouter.ai/api/v1/chat/completions"
	defaultScorerModel         = "google/gemini-3-flash-preview"
	defaultProviderTimeout     = 60
	defaultCrowdBaseURL        = "https://api.prolific.com/v1"
	defaultCrowdTimeout        = 30
	defaultCrowdSweepInterval  = 15
	defaultRelayBaseURL        = "https://api.mergent.co/v2"
	defaultRelayTimeout        = 15
	defaultLogFormat           = "text"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Pipeline: Pipeline{
			MaxReviewIterations: defaultMaxReviewIterations,
			ConfidenceThreshold: defaultConfidenceThreshold,
		},
		Workers: Workers{
			Count:             defaultWorkerCount,
			InFlightPerWorker: defaultInFlightPerWorker,
			PollInterval:      defaultPollInterval,
			ReclaimInterval:   defaultReclaimInterval,
			ClaimTimeout:      defaultClaimTimeout,
		},
		Queue: Queue{
			MaxRetries:     defaultQueueMaxRetries,
			RetryBaseDelay: defaultRetryBaseDelay,
			RetryMaxDelay:  defaultRetryMaxDelay,
		},
		Webhooks: Webhooks{
			Mode:            defaultWebhookMode,
			AttemptTimeout:  defaultAttemptTimeout,
			BackoffSchedule: []int{1, 5, 15},
			FreshnessWindow: defaultFreshnessWindow,
			DispatchBuffer:  defaultDispatchBuffer,
		},
		Translator: Provider{
			BaseURL:        defaultTranslatorBaseURL,
			Model:          defaultTranslatorModel,
			TimeoutSeconds: defaultProviderTimeout,
		},
		Scorer: Provider{
			BaseURL:        defaultScorerBaseURL,
			Model:          defaultScorerModel,
			TimeoutSeconds: defaultProviderTimeout,
		},
		CrowdReview: CrowdReview{
			BaseURL:        defaultCrowdBaseURL,
			TimeoutSeconds: defaultCrowdTimeout,
			SweepInterval:  defaultCrowdSweepInterval,
		},
		Relay: Relay{
			BaseURL:        defaultRelayBaseURL,
			TimeoutSeconds: defaultRelayTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
