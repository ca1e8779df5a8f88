// Package config loads and validates screener configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Scraping  ScrapingConfig  `mapstructure:"scraping"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSecs   int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	APIKey    string `mapstructure:"api_key"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RateLimitConfig sizes the per-client sliding window.
type RateLimitConfig struct {
	Backend       string `mapstructure:"backend"`
	MaxCalls      int    `mapstructure:"max_calls"`
	WindowSeconds int    `mapstructure:"window_seconds"`
	RedisURL      string `mapstructure:"redis_url"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

// ScrapingConfig governs how sources are reached.
type ScrapingConfig struct {
	Mode           string  `mapstructure:"mode"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries"`
	RetryDelayMs   int     `mapstructure:"retry_delay_ms"`
	MaxRetryDelay  int     `mapstructure:"max_retry_delay_ms"`
	Backoff        string  `mapstructure:"backoff"`
	Headless       bool    `mapstructure:"headless"`
	MaxTabs        int     `mapstructure:"max_tabs"`
	ChromePath     string  `mapstructure:"chrome_path"`
	UserAgent      string  `mapstructure:"user_agent"`
	Offline        bool    `mapstructure:"offline"`
	DatasetPath    string  `mapstructure:"dataset_path"`
	UpstreamRPS    float64 `mapstructure:"upstream_rps"`
	UpstreamBurst  int     `mapstructure:"upstream_burst"`
}

// SourcesConfig points each source at its upstream.
type SourcesConfig struct {
	OFACAPIURL       string `mapstructure:"ofac_api_url"`
	OFACAPIKey       string `mapstructure:"ofac_api_key"`
	OFACSearchURL    string `mapstructure:"ofac_search_url"`
	WorldBankAPIURL  string `mapstructure:"worldbank_api_url"`
	WorldBankAPIKey  string `mapstructure:"worldbank_api_key"`
	OffshoreLeaksURL string `mapstructure:"offshoreleaks_url"`
}

// StorageConfig selects the report archive.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem archive.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig controls the Postgres result store. An empty DSN keeps reports in memory.
type DatabaseConfig struct {
	DSN        string `mapstructure:"dsn"`
	Table      string `mapstructure:"table"`
	MaxConns   int32  `mapstructure:"max_conns"`
	AutoCreate bool   `mapstructure:"auto_create"`
	MaxInMem   int    `mapstructure:"max_in_memory"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	ServiceName  string  `mapstructure:"service_name"`
	TraceEnabled bool    `mapstructure:"trace_enabled"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCREENER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Every key needs a default so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.max_calls", 20)
	v.SetDefault("rate_limit.window_seconds", 60)
	v.SetDefault("rate_limit.redis_url", "")
	v.SetDefault("rate_limit.key_prefix", "ratelimit:")
	v.SetDefault("scraping.mode", "api")
	v.SetDefault("scraping.timeout_seconds", 30)
	v.SetDefault("scraping.max_retries", 3)
	v.SetDefault("scraping.retry_delay_ms", 1000)
	v.SetDefault("scraping.max_retry_delay_ms", 10000)
	v.SetDefault("scraping.backoff", "linear")
	v.SetDefault("scraping.headless", true)
	v.SetDefault("scraping.max_tabs", 4)
	v.SetDefault("scraping.chrome_path", "")
	v.SetDefault("scraping.user_agent", "")
	v.SetDefault("scraping.offline", false)
	v.SetDefault("scraping.dataset_path", "")
	v.SetDefault("scraping.upstream_rps", 2.0)
	v.SetDefault("scraping.upstream_burst", 4)
	v.SetDefault("sources.ofac_api_url", "")
	v.SetDefault("sources.ofac_api_key", "")
	v.SetDefault("sources.ofac_search_url", "")
	v.SetDefault("sources.worldbank_api_url", "")
	v.SetDefault("sources.worldbank_api_key", "")
	v.SetDefault("sources.offshoreleaks_url", "")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "screenings")
	v.SetDefault("storage.local.base_dir", "data/screenings")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "screenings")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.auto_create", false)
	v.SetDefault("database.max_in_memory", 1000)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "screening.completed")
	v.SetDefault("telemetry.service_name", "risk-screener")
	v.SetDefault("telemetry.trace_enabled", false)
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.RateLimit.MaxCalls <= 0 {
		return fmt.Errorf("rate_limit.max_calls must be > 0")
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate_limit.window_seconds must be > 0")
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.RateLimit.RedisURL == "" {
			return fmt.Errorf("rate_limit.redis_url must be set when backend is redis")
		}
	default:
		return fmt.Errorf("rate_limit.backend must be memory or redis, got %q", c.RateLimit.Backend)
	}
	switch strings.ToLower(c.Scraping.Mode) {
	case "", "api", "direct", "hybrid":
	default:
		return fmt.Errorf("scraping.mode must be api, direct or hybrid, got %q", c.Scraping.Mode)
	}
	switch strings.ToLower(c.Scraping.Backoff) {
	case "", "linear", "exponential":
	default:
		return fmt.Errorf("scraping.backoff must be linear or exponential, got %q", c.Scraping.Backoff)
	}
	if c.Scraping.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraping.timeout_seconds must be > 0")
	}
	if c.Scraping.MaxRetries < 0 {
		return fmt.Errorf("scraping.max_retries must be >= 0")
	}
	if c.Scraping.RetryDelayMs < 0 {
		return fmt.Errorf("scraping.retry_delay_ms must be >= 0")
	}
	if c.Storage.Backend == "gcs" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket must be set when backend is gcs")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0,1]")
	}
	return nil
}

// Window returns the rate-limit window as a duration.
func (c Config) Window() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// ScrapeTimeout bounds each upstream attempt.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scraping.TimeoutSeconds) * time.Second
}

// RetryDelay is the base delay between retry attempts.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Scraping.RetryDelayMs) * time.Millisecond
}

// MaxRetryDelay caps the backoff between attempts.
func (c Config) MaxRetryDelay() time.Duration {
	return time.Duration(c.Scraping.MaxRetryDelay) * time.Millisecond
}

// RequestTimeout bounds a whole screening request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
