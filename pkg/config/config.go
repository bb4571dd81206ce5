package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Database  DatabaseConfig
	Fetcher   FetcherConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Scoring   ScoringConfig
	Pipeline  PipelineConfig
	Logging   LoggingConfig
	Telemetry TelemetryConfig
}

// DatabaseConfig holds sqlite database configuration
type DatabaseConfig struct {
	Path        string
	BusyTimeout time.Duration
}

// FetcherConfig holds bird CLI fetcher configuration
type FetcherConfig struct {
	Binary           string
	Timeout          time.Duration
	MinInterval      time.Duration
	RetryMaxAttempts int
	RetryBase        time.Duration
	RetryMax         time.Duration
}

// RedisConfig holds Redis configuration for the resolved-URL cache
type RedisConfig struct {
	URL     string
	Enabled bool
}

// LLMConfig holds language-model provider configuration
type LLMConfig struct {
	Provider         string
	TriageModel      string
	EnrichModel      string
	VisionModel      string
	RetryMaxAttempts int
	RetryBase        time.Duration
	RetryMax         time.Duration
	RetryJitter      float64
}

// ScoringConfig holds score thresholds for triage fan-out
type ScoringConfig struct {
	BatchSize            int
	HighSignalThreshold  float64
	MinScoreForMedia     float64
	MinScoreForAnalysis  float64
	MinScoreForArticle   float64
	MinScoreForReprocess float64
}

// PipelineConfig holds worker-pool and dependency-walk configuration
type PipelineConfig struct {
	TriageWorkers        int
	TextWorkers          int
	VisionWorkers        int
	LinkExpansionWorkers int
	QuoteDepth           int
	QuoteDelay           time.Duration
	ForceRefresh         bool
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled           bool
	JaegerURL         string
	PrometheusEnabled bool
	PrometheusPort    int
	ServiceName       string
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	setDefaults()

	viper.SetEnvPrefix("TWAG")
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.twag")
	viper.AddConfigPath("/etc/twag")

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found; this is OK if we have env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Path:        getString("database_path", "twag.db"),
			BusyTimeout: getDuration("database_busy_timeout", 5*time.Second),
		},
		Fetcher: FetcherConfig{
			Binary:           getString("bird_binary", "bird"),
			Timeout:          getDuration("bird_timeout", 60*time.Second),
			MinInterval:      getDuration("bird_min_interval", time.Second),
			RetryMaxAttempts: getInt("bird_retry_max_attempts", 4),
			RetryBase:        getDuration("bird_retry_base", 15*time.Second),
			RetryMax:         getDuration("bird_retry_max", 120*time.Second),
		},
		Redis: RedisConfig{
			URL:     getString("redis_url", ""),
			Enabled: getString("redis_url", "") != "",
		},
		LLM: LLMConfig{
			Provider:         getString("llm_provider", "anthropic"),
			TriageModel:      getString("llm_triage_model", ""),
			EnrichModel:      getString("llm_enrich_model", ""),
			VisionModel:      getString("llm_vision_model", ""),
			RetryMaxAttempts: getInt("llm_retry_max_attempts", 4),
			RetryBase:        getDuration("llm_retry_base", time.Second),
			RetryMax:         getDuration("llm_retry_max", 20*time.Second),
			RetryJitter:      getFloat("llm_retry_jitter", 0.3),
		},
		Scoring: ScoringConfig{
			BatchSize:            getInt("scoring_batch_size", 10),
			HighSignalThreshold:  getFloat("high_signal_threshold", 8),
			MinScoreForMedia:     getFloat("min_score_for_media", 3),
			MinScoreForAnalysis:  getFloat("min_score_for_analysis", 3),
			MinScoreForArticle:   getFloat("min_score_for_article", 5),
			MinScoreForReprocess: getFloat("min_score_for_reprocess", 3),
		},
		Pipeline: PipelineConfig{
			TriageWorkers:        getInt("triage_workers", 5),
			TextWorkers:          getInt("text_workers", 5),
			VisionWorkers:        getInt("vision_workers", 3),
			LinkExpansionWorkers: getInt("link_expansion_workers", 15),
			QuoteDepth:           getInt("quote_depth", 2),
			QuoteDelay:           getDuration("quote_delay", time.Second),
			ForceRefresh:         getBool("force_refresh", false),
		},
		Logging: LoggingConfig{
			Level:  getString("log_level", "INFO"),
			Format: getString("log_format", "json"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           getBool("telemetry_enabled", false),
			JaegerURL:         getString("jaeger_url", ""),
			PrometheusEnabled: getBool("prometheus_enabled", false),
			PrometheusPort:    getInt("prometheus_port", 9090),
			ServiceName:       getString("service_name", "twag"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("database_path", "twag.db")
	viper.SetDefault("bird_binary", "bird")
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("log_format", "json")
	viper.SetDefault("scoring_batch_size", 10)
	viper.SetDefault("triage_workers", 5)
	viper.SetDefault("text_workers", 5)
	viper.SetDefault("vision_workers", 3)
	viper.SetDefault("link_expansion_workers", 15)
	viper.SetDefault("quote_depth", 2)
	viper.SetDefault("service_name", "twag")
}

func getString(key, defaultValue string) string {
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	if val := os.Getenv("TWAG_" + toEnvKey(key)); val != "" {
		return val
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	if val := os.Getenv("TWAG_" + toEnvKey(key)); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if viper.IsSet(key) {
		return viper.GetFloat64(key)
	}
	if val := os.Getenv("TWAG_" + toEnvKey(key)); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	if val := os.Getenv("TWAG_" + toEnvKey(key)); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if viper.IsSet(key) {
		return viper.GetDuration(key)
	}
	if val := os.Getenv("TWAG_" + toEnvKey(key)); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultValue
}

func toEnvKey(key string) string {
	// Convert snake_case to UPPER_SNAKE_CASE
	result := ""
	for _, r := range key {
		if r == '-' || r == '_' {
			result += "_"
		} else if r >= 'a' && r <= 'z' {
			result += string(r - 32)
		} else {
			result += string(r)
		}
	}
	return result
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.Fetcher.Binary == "" {
		return fmt.Errorf("bird_binary is required")
	}
	if c.Scoring.BatchSize <= 0 || c.Scoring.BatchSize > 100 {
		return fmt.Errorf("scoring_batch_size must be between 1 and 100")
	}
	if c.Pipeline.TriageWorkers < 1 || c.Pipeline.TriageWorkers > 64 {
		return fmt.Errorf("triage_workers must be between 1 and 64")
	}
	if c.Pipeline.QuoteDepth < 0 || c.Pipeline.QuoteDepth > 10 {
		return fmt.Errorf("quote_depth must be between 0 and 10")
	}
	return nil
}
