package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shiranui/newsdigest/internal/apperr"
)

type Config struct {
	// Source catalog
	SourcesConfigPath string

	// Fetcher settings
	UserAgent       string
	FeedUserAgent   string
	RequestTimeout  time.Duration
	FetchAttempts   int
	FetchBaseDelay  time.Duration
	FetchMaxDelay   time.Duration
	MaxArticleBytes int

	// Fingerprinting
	SimhashBits int

	// LLM settings
	GeminiAPIKey          string
	GeminiAPIKeySecret    string
	GeminiModel           string
	AnthropicAPIKey       string
	AnthropicAPIKeySecret string
	AnthropicModel        string
	PromptSecretName      string
	PromptBodyCharLimit   int
	LLMMaxAttempts        int
	LLMBackoffBase        time.Duration
	LLMBackoffMax         time.Duration
	MaxLLMRequests        int // per-run cap on detailed summarization calls (0 = unlimited)

	// Store settings
	DatabaseURL            string
	SummaryTTL             time.Duration
	DetailTTL              time.Duration
	DetailPendingTimeout   time.Duration
	DetailFailureReasonMax int

	// Alerting (empty token disables)
	AlertTelegramToken  string
	AlertTelegramChatID string

	// Dispatch settings
	WorkerCount          int
	ForceFetch           bool
	FeedRefreshThreshold time.Duration
	FeedEntryLimit       int

	// App settings
	Debug          bool
	MonitoringPort string
}

func Load() (*Config, error) {
	cfg := &Config{
		SourcesConfigPath:      getEnvOrDefault("SOURCES_CONFIG_PATH", "configs/sources.yaml"),
		UserAgent:              getEnvOrDefault("COLLECTOR_USER_AGENT", "newsdigest-collector/0.1"),
		RequestTimeout:         getEnvDurationOrDefault("REQUEST_TIMEOUT_SECONDS", 10*time.Second),
		FetchAttempts:          getEnvIntOrDefault("FETCH_MAX_ATTEMPTS", 4),
		FetchBaseDelay:         getEnvDurationOrDefault("FETCH_BASE_DELAY_MS", 500*time.Millisecond),
		FetchMaxDelay:          getEnvDurationOrDefault("FETCH_MAX_DELAY_MS", 8*time.Second),
		MaxArticleBytes:        getEnvIntOrDefault("MAX_ARTICLE_BYTES", 200000),
		SimhashBits:            getEnvIntOrDefault("SIMHASH_BITS", 64),
		GeminiModel:            getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		AnthropicModel:         getEnvOrDefault("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		PromptSecretName:       os.Getenv("PROMPT_SECRET_NAME"),
		PromptBodyCharLimit:    getEnvIntOrDefault("PROMPT_BODY_CHAR_LIMIT", 8000),
		LLMMaxAttempts:         getEnvIntOrDefault("LLM_MAX_ATTEMPTS", 5),
		LLMBackoffBase:         getEnvDurationOrDefault("LLM_BACKOFF_BASE_SECONDS", 5*time.Second),
		LLMBackoffMax:          getEnvDurationOrDefault("LLM_BACKOFF_MAX_SECONDS", 60*time.Second),
		MaxLLMRequests:         getEnvIntOrDefault("MAX_LLM_REQUESTS", 0),
		SummaryTTL:             getEnvDurationOrDefault("SUMMARY_TTL_SECONDS", 172800*time.Second),
		DetailTTL:              getEnvDurationOrDefault("DETAIL_TTL_SECONDS", 43200*time.Second),
		DetailPendingTimeout:   getEnvDurationOrDefault("DETAIL_PENDING_TIMEOUT_SECONDS", 900*time.Second),
		DetailFailureReasonMax: getEnvIntOrDefault("DETAIL_FAILURE_REASON_MAX", 256),
		WorkerCount:            getEnvIntOrDefault("WORKER_COUNT", 4),
		FeedRefreshThreshold:   getEnvDurationOrDefault("FEED_REFRESH_THRESHOLD_SECONDS", 3600*time.Second),
		FeedEntryLimit:         getEnvIntOrDefault("FEED_ENTRY_LIMIT", 20),
		MonitoringPort:         getEnvOrDefault("MONITORING_PORT", "8080"),
	}

	cfg.FeedUserAgent = getEnvOrDefault("COLLECTOR_FEED_USER_AGENT", cfg.UserAgent)
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiAPIKeySecret = os.Getenv("GEMINI_API_KEY_SECRET_NAME")
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.AnthropicAPIKeySecret = os.Getenv("ANTHROPIC_API_KEY_SECRET_NAME")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.AlertTelegramToken = os.Getenv("ALERT_TELEGRAM_TOKEN")
	cfg.AlertTelegramChatID = os.Getenv("ALERT_TELEGRAM_CHAT_ID")

	if os.Getenv("DEBUG") == "true" {
		cfg.Debug = true
	}
	if os.Getenv("FORCE_FETCH") == "true" {
		cfg.ForceFetch = true
	}

	return cfg, cfg.Validate()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault reads an integer env var whose unit is encoded in
// the key suffix (_SECONDS or _MS).
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil || intValue < 0 {
		return defaultValue
	}
	if len(key) > 3 && key[len(key)-3:] == "_MS" {
		return time.Duration(intValue) * time.Millisecond
	}
	return time.Duration(intValue) * time.Second
}

func (c *Config) Validate() error {
	if c.SimhashBits <= 0 || c.SimhashBits%8 != 0 {
		return apperr.NewConfigError("SIMHASH_BITS must be a positive multiple of 8, got %d", c.SimhashBits)
	}
	if c.FetchAttempts < 1 {
		return apperr.NewConfigError("FETCH_MAX_ATTEMPTS must be at least 1")
	}
	if c.MaxArticleBytes <= 0 {
		return apperr.NewConfigError("MAX_ARTICLE_BYTES must be positive")
	}
	if c.GeminiAPIKey == "" && c.GeminiAPIKeySecret == "" &&
		c.AnthropicAPIKey == "" && c.AnthropicAPIKeySecret == "" {
		return apperr.NewConfigError("GEMINI_API_KEY or ANTHROPIC_API_KEY is required")
	}
	if c.WorkerCount < 1 {
		return apperr.NewConfigError("WORKER_COUNT must be at least 1")
	}
	return nil
}
