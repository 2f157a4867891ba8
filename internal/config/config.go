// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Splitter SplitterConfig `mapstructure:"splitter"`
	Embedder EmbedderConfig `mapstructure:"embedder"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Export   ExportConfig   `mapstructure:"export"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs crawl and dispatcher behavior.
type CrawlerConfig struct {
	Workers          int    `mapstructure:"workers"`
	URLConcurrency   int    `mapstructure:"url_concurrency"`
	UserAgent        string `mapstructure:"user_agent"`
	MaxDepthDefault  int    `mapstructure:"max_depth_default"`
	CutoffDefault    int    `mapstructure:"cutoff_default"`
	ContinueOnError  bool   `mapstructure:"continue_on_error"`
	GlobalQueueDepth int    `mapstructure:"queue_depth"`
}

// HTTPConfig configures HTTP client timeout behavior.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// SplitterConfig sets chunking behavior for document text.
type SplitterConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

// EmbedderConfig describes the embedding replica fleet.
type EmbedderConfig struct {
	Endpoints                []string `mapstructure:"endpoints"`
	Model                    string   `mapstructure:"model"`
	Normalize                bool     `mapstructure:"normalize"`
	MaxConcurrencyPerReplica int      `mapstructure:"max_concurrency_per_replica"`
	TimeoutSeconds           int      `mapstructure:"timeout_seconds"`
	MaxRetries               int      `mapstructure:"max_retries"`
	BackoffInitialMs         int      `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs             int      `mapstructure:"backoff_max_ms"`
}

// StorageConfig sets paths and content types for blob persistence.
type StorageConfig struct {
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ExportConfig controls where CSV result artifacts land.
type ExportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	Branch    string `mapstructure:"branch"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("URLEMBEDDER")
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.workers", 2)
	v.SetDefault("crawler.url_concurrency", 4)
	v.SetDefault("crawler.user_agent", "url-embedder-bot/0.1")
	v.SetDefault("crawler.max_depth_default", 1)
	v.SetDefault("crawler.cutoff_default", 100)
	v.SetDefault("crawler.continue_on_error", false)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("splitter.chunk_size", 1000)
	v.SetDefault("splitter.chunk_overlap", 200)
	v.SetDefault("embedder.endpoints", []string{"http://localhost:8081/embed"})
	v.SetDefault("embedder.normalize", true)
	v.SetDefault("embedder.max_concurrency_per_replica", 32)
	v.SetDefault("embedder.timeout_seconds", 60)
	v.SetDefault("embedder.max_retries", 2)
	v.SetDefault("embedder.backoff_initial_ms", 250)
	v.SetDefault("embedder.backoff_max_ms", 2000)
	v.SetDefault("storage.prefix", "vectors")
	v.SetDefault("storage.local_dir", "data/blobs")
	v.SetDefault("storage.content_type", "application/json")
	v.SetDefault("export.output_dir", "data/results")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if len(c.Embedder.Endpoints) == 0 {
		return fmt.Errorf("embedder.endpoints must list at least one replica")
	}
	if c.Embedder.MaxConcurrencyPerReplica <= 0 {
		return fmt.Errorf("embedder.max_concurrency_per_replica must be > 0")
	}
	if c.Splitter.ChunkSize <= 0 {
		return fmt.Errorf("splitter.chunk_size must be > 0")
	}
	if c.Splitter.ChunkOverlap < 0 {
		return fmt.Errorf("splitter.chunk_overlap must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// HTTPTimeout converts the HTTP timeout config into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// EmbedTimeout converts the embedder timeout config into a duration.
func (c Config) EmbedTimeout() time.Duration {
	return time.Duration(c.Embedder.TimeoutSeconds) * time.Second
}
