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
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	BOAMP       BOAMPConfig       `mapstructure:"boamp"`
	Unlocker    UnlockerConfig    `mapstructure:"unlocker"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	Analyzer    AnalyzerConfig    `mapstructure:"analyzer"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Database    DatabaseConfig    `mapstructure:"database"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
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

// AcquisitionConfig tunes the tier cascade.
type AcquisitionConfig struct {
	MaxDocumentBytes   int `mapstructure:"max_document_bytes"`
	HTMLCandidateLimit int `mapstructure:"html_candidate_limit"`
	DiscoveryBatchSize int `mapstructure:"discovery_batch_size"`
	BudgetSeconds      int `mapstructure:"budget_seconds"`
}

// HTTPConfig configures the direct fetcher.
type HTTPConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	MaxRedirects   int     `mapstructure:"max_redirects"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// BOAMPConfig points at the notice open-data API.
type BOAMPConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	APIURL         string `mapstructure:"api_url"`
	Dataset        string `mapstructure:"dataset"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// UnlockerConfig configures the third-party unlock service.
type UnlockerConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	BaseURL         string `mapstructure:"base_url"`
	APIKey          string `mapstructure:"api_key"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
	CacheSize       int    `mapstructure:"cache_size"`
	MaxLinks        int    `mapstructure:"max_links"`
}

// Headless worker modes.
const (
	HeadlessOff      = "off"
	HeadlessRemote   = "remote"
	HeadlessChromedp = "chromedp"
)

// HeadlessConfig selects and configures the headless worker.
type HeadlessConfig struct {
	Mode           string `mapstructure:"mode"`
	WorkerURL      string `mapstructure:"worker_url"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxParallel    int    `mapstructure:"max_parallel"`
}

// AnalyzerConfig points at the downstream content analyzer.
type AnalyzerConfig struct {
	URL            string `mapstructure:"url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Storage backends.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// StorageConfig selects the document blob store.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem blob store.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig controls access to the outcome store. An empty DSN keeps
// outcomes in memory.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for acquisition events. An empty topic keeps
// events in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// BatchConfig sizes the batch worker pool. Setting QueueTopic moves the
// batch queue from memory to Pub/Sub.
type BatchConfig struct {
	Concurrency  int    `mapstructure:"concurrency"`
	QueueDepth   int    `mapstructure:"queue_depth"`
	QueueTopic   string `mapstructure:"queue_topic"`
	Subscription string `mapstructure:"subscription"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	ServiceName    string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DCE")
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
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("acquisition.max_document_bytes", 25<<20)
	v.SetDefault("acquisition.html_candidate_limit", 3)
	v.SetDefault("acquisition.discovery_batch_size", 3)
	v.SetDefault("acquisition.budget_seconds", 120)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
		"(KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("http.max_redirects", 5)
	v.SetDefault("http.rate_limit_rps", 0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("boamp.enabled", true)
	v.SetDefault("boamp.api_url", "https://boamp-datadila.opendatasoft.com/api/explore/v2.1")
	v.SetDefault("boamp.dataset", "boamp")
	v.SetDefault("boamp.timeout_seconds", 10)
	v.SetDefault("unlocker.enabled", false)
	v.SetDefault("unlocker.base_url", "")
	v.SetDefault("unlocker.api_key", "")
	v.SetDefault("unlocker.timeout_seconds", 60)
	v.SetDefault("unlocker.cache_ttl_seconds", 600)
	v.SetDefault("unlocker.cache_size", 256)
	v.SetDefault("unlocker.max_links", 5)
	v.SetDefault("headless.mode", HeadlessOff)
	v.SetDefault("headless.worker_url", "")
	v.SetDefault("headless.token", "")
	v.SetDefault("headless.timeout_seconds", 90)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("analyzer.url", "")
	v.SetDefault("analyzer.api_key", "")
	v.SetDefault("analyzer.timeout_seconds", 60)
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "dce")
	v.SetDefault("storage.local.base_dir", "data")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "acquisitions")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.queue_depth", 64)
	v.SetDefault("batch.queue_topic", "")
	v.SetDefault("batch.subscription", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.service_name", "dce-acquisition")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Acquisition.MaxDocumentBytes <= 0 {
		return fmt.Errorf("acquisition.max_document_bytes must be > 0")
	}
	if c.Acquisition.HTMLCandidateLimit <= 0 || c.Acquisition.DiscoveryBatchSize <= 0 {
		return fmt.Errorf("acquisition candidate limits must be > 0")
	}
	if c.Acquisition.BudgetSeconds <= 0 {
		return fmt.Errorf("acquisition.budget_seconds must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRedirects <= 0 {
		return fmt.Errorf("http.max_redirects must be > 0")
	}
	if c.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("http.rate_limit_rps must be >= 0")
	}
	if c.Analyzer.URL == "" {
		return fmt.Errorf("analyzer.url must be set")
	}
	if c.Unlocker.Enabled && c.Unlocker.BaseURL == "" {
		return fmt.Errorf("unlocker.base_url must be set when the unlocker is enabled")
	}
	switch c.Headless.Mode {
	case HeadlessOff, "":
	case HeadlessRemote:
		if c.Headless.WorkerURL == "" || c.Headless.Token == "" {
			return fmt.Errorf("headless.worker_url and headless.token must be set in remote mode")
		}
	case HeadlessChromedp:
		if c.Headless.MaxParallel <= 0 {
			return fmt.Errorf("headless.max_parallel must be > 0 in chromedp mode")
		}
	default:
		return fmt.Errorf("unknown headless.mode %q", c.Headless.Mode)
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when a topic is configured")
	}
	if c.Batch.Concurrency <= 0 || c.Batch.QueueDepth <= 0 {
		return fmt.Errorf("batch.concurrency and batch.queue_depth must be > 0")
	}
	if c.Batch.QueueTopic != "" && (c.Batch.Subscription == "" || c.PubSub.ProjectID == "") {
		return fmt.Errorf("batch.subscription and pubsub.project_id must be set for a pubsub queue")
	}
	return nil
}

// Budget returns the per-acquisition deadline budget.
func (c Config) Budget() time.Duration {
	return time.Duration(c.Acquisition.BudgetSeconds) * time.Second
}

// Seconds converts a seconds knob to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
