package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env          string
	Port         string
	OTel         OTelConfig
	WriterALLM   LLMConfig
	WriterBLLM   LLMConfig
	EvaluatorLLM LLMConfig
	Tavily       TavilyConfig
	Perplexity   PerplexityConfig
	Redis        RedisConfig
	DB           DBConfig
	Pipeline     PipelineConfig
	Poller       PollerConfig
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type LLMConfig struct {
	Provider  string // "openai" or "anthropic"
	APIKey    string
	BaseURL   string // Optional: for custom endpoints
	Model     string
	MaxTokens int
}

type TavilyConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

type PerplexityConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration
}

type RedisConfig struct {
	URL string
}

type DBConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// PipelineConfig carries the orchestration policy constants: evidence
// thresholds, retry ceilings, iteration caps, and deadlines.
type PipelineConfig struct {
	MinStatistics      int
	MinQuotations      int
	MaxResearchRetries int
	MaxIterations      int
	QualityThreshold   float64
	TieBreak           string // draft branch winning an exact score tie
	JobDeadline        time.Duration
	LLMCallTimeout     time.Duration
	HistoryLimit       int
}

// PollerConfig carries the client-side polling defaults used by the
// CLI; the poller itself takes an explicit policy value.
type PollerConfig struct {
	BaseInterval         time.Duration
	MaxAttempts          int
	MaxConsecutiveErrors int
}

// Load loads configuration from environment variables. In development,
// it loads from .env first.
func Load() (Config, error) {
	if getEnv("GEO_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	cfg := Config{
		Env:  getEnv("GEO_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "geo-content"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		WriterALLM: LLMConfig{
			Provider:  getEnv("WRITER_A_LLM_PROVIDER", "openai"),
			APIKey:    getEnv("WRITER_A_LLM_API_KEY", getEnv("OPENAI_API_KEY", "")),
			BaseURL:   getEnv("WRITER_A_LLM_BASE_URL", ""),
			Model:     getEnv("WRITER_A_LLM_MODEL", "gpt-4o-mini"),
			MaxTokens: getEnvInt("WRITER_A_LLM_MAX_TOKENS", 4096),
		},
		WriterBLLM: LLMConfig{
			Provider:  getEnv("WRITER_B_LLM_PROVIDER", "anthropic"),
			APIKey:    getEnv("WRITER_B_LLM_API_KEY", getEnv("ANTHROPIC_API_KEY", "")),
			BaseURL:   getEnv("WRITER_B_LLM_BASE_URL", ""),
			Model:     getEnv("WRITER_B_LLM_MODEL", "claude-3-5-haiku-latest"),
			MaxTokens: getEnvInt("WRITER_B_LLM_MAX_TOKENS", 4096),
		},
		EvaluatorLLM: LLMConfig{
			Provider:  getEnv("EVALUATOR_LLM_PROVIDER", "openai"),
			APIKey:    getEnv("EVALUATOR_LLM_API_KEY", getEnv("OPENAI_API_KEY", "")),
			BaseURL:   getEnv("EVALUATOR_LLM_BASE_URL", ""),
			Model:     getEnv("EVALUATOR_LLM_MODEL", "o4-mini"),
			MaxTokens: getEnvInt("EVALUATOR_LLM_MAX_TOKENS", 4096),
		},
		Tavily: TavilyConfig{
			APIKey:  getEnv("TAVILY_API_KEY", ""),
			BaseURL: getEnv("TAVILY_BASE_URL", "https://api.tavily.com"),
			Timeout: getEnvDuration("SEARCH_TIMEOUT", 30*time.Second),
		},
		Perplexity: PerplexityConfig{
			APIKey:      getEnv("PERPLEXITY_API_KEY", ""),
			BaseURL:     getEnv("PERPLEXITY_BASE_URL", "https://api.perplexity.ai"),
			Model:       getEnv("PERPLEXITY_MODEL", "sonar-pro"),
			Timeout:     getEnvDuration("SEARCH_TIMEOUT", 30*time.Second),
			MaxAttempts: getEnvInt("VERIFY_RETRY_MAX_ATTEMPTS", 3),
			MinWait:     getEnvDuration("VERIFY_RETRY_MIN_WAIT", 2*time.Second),
			MaxWait:     getEnvDuration("VERIFY_RETRY_MAX_WAIT", 30*time.Second),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		DB: DBConfig{
			DSN:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt32("DB_MAX_CONNS", 10),
			MinConns: getEnvInt32("DB_MIN_CONNS", 2),
		},
		Pipeline: PipelineConfig{
			MinStatistics:      getEnvInt("MIN_VERIFIED_STATISTICS", 2),
			MinQuotations:      getEnvInt("MIN_VERIFIED_QUOTATIONS", 1),
			MaxResearchRetries: getEnvInt("MAX_RESEARCH_RETRIES", 2),
			MaxIterations:      getEnvInt("MAX_EVAL_ITERATIONS", 3),
			QualityThreshold:   float64(getEnvInt("QUALITY_THRESHOLD", 80)),
			TieBreak:           getEnv("EVAL_TIE_BREAK", "A"),
			JobDeadline:        getEnvDuration("JOB_DEADLINE", 10*time.Minute),
			LLMCallTimeout:     getEnvDuration("LLM_CALL_TIMEOUT", 120*time.Second),
			HistoryLimit:       getEnvInt("JOB_HISTORY_LIMIT", 50),
		},
		Poller: PollerConfig{
			BaseInterval:         getEnvDuration("POLL_BASE_INTERVAL", 2*time.Second),
			MaxAttempts:          getEnvInt("POLL_MAX_ATTEMPTS", 300),
			MaxConsecutiveErrors: getEnvInt("POLL_MAX_CONSECUTIVE_ERRORS", 3),
		},
	}

	if cfg.Pipeline.TieBreak != "A" && cfg.Pipeline.TieBreak != "B" {
		return Config{}, fmt.Errorf("EVAL_TIE_BREAK must be A or B, got %q", cfg.Pipeline.TieBreak)
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" && (c.Provider == "openai" || c.Provider == "anthropic")
}

func (c TavilyConfig) Enabled() bool {
	return c.APIKey != ""
}

func (c PerplexityConfig) Enabled() bool {
	return c.APIKey != ""
}

func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

func (c DBConfig) Enabled() bool {
	return c.DSN != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
