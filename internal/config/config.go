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
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Search    SearchConfig    `mapstructure:"search"`
	Store     StoreConfig     `mapstructure:"store"`
	Artifact  ArtifactConfig  `mapstructure:"artifact"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Backup    BackupConfig    `mapstructure:"backup"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// QueueConfig governs task scheduling and retry behavior.
type QueueConfig struct {
	MaxRetries        int `mapstructure:"max_retries"`
	RetryBaseDelayMs  int `mapstructure:"retry_base_delay_ms"`
	MaxRetryDelayMs   int `mapstructure:"max_retry_delay_ms"`
	MaxPending        int `mapstructure:"max_pending"`
	CleanupAfterHours int `mapstructure:"cleanup_after_hours"`
}

// ProcessorConfig governs batch processing.
type ProcessorConfig struct {
	BatchSize          int     `mapstructure:"batch_size"`
	RelevanceThreshold float64 `mapstructure:"relevance_threshold"`
	DefaultMaxItems    int     `mapstructure:"default_max_items"`
}

// DedupConfig governs duplicate detection.
type DedupConfig struct {
	RefetchWindowDays    int  `mapstructure:"refetch_window_days"`
	SimilarityCheck      bool `mapstructure:"similarity_check"`
	SimilarityWindowDays int  `mapstructure:"similarity_window_days"`
	SimilarityLimit      int  `mapstructure:"similarity_limit"`
}

// SearchConfig selects and tunes the content providers.
type SearchConfig struct {
	Providers      []string `mapstructure:"providers"`
	UserAgent      string   `mapstructure:"user_agent"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	LinksPerSite   int      `mapstructure:"links_per_site"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
}

// ArtifactConfig selects where backup artifacts land.
type ArtifactConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// BackupConfig governs automatic backups and retention.
type BackupConfig struct {
	AutoAfterJob  bool `mapstructure:"auto_after_job"`
	RetentionDays int  `mapstructure:"retention_days"`
}

// LoggingConfig controls zap output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
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
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.retry_base_delay_ms", 1000)
	v.SetDefault("queue.max_retry_delay_ms", 30000)
	v.SetDefault("queue.max_pending", 1000)
	v.SetDefault("queue.cleanup_after_hours", 24)
	v.SetDefault("processor.batch_size", 10)
	v.SetDefault("processor.relevance_threshold", 10)
	v.SetDefault("processor.default_max_items", 20)
	v.SetDefault("dedup.refetch_window_days", 30)
	v.SetDefault("dedup.similarity_check", false)
	v.SetDefault("dedup.similarity_window_days", 7)
	v.SetDefault("dedup.similarity_limit", 10)
	v.SetDefault("search.providers", []string{"web", "rss"})
	v.SetDefault("search.user_agent", "newsharvest-bot/0.1")
	v.SetDefault("search.timeout_seconds", 15)
	v.SetDefault("search.links_per_site", 10)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("artifact.provider", "local")
	v.SetDefault("artifact.prefix", "backups")
	v.SetDefault("artifact.local_dir", "backups")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic_name", "harvest-events")
	v.SetDefault("backup.auto_after_job", false)
	v.SetDefault("backup.retention_days", 30)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must be >= 0")
	}
	if c.Processor.BatchSize <= 0 {
		return fmt.Errorf("processor.batch_size must be > 0")
	}
	switch c.Store.Provider {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown store.provider %q", c.Store.Provider)
	}
	switch c.Artifact.Provider {
	case "memory", "local":
	case "gcs":
		if c.Artifact.GCSBucket == "" {
			return fmt.Errorf("artifact.gcs_bucket must be set when artifact.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown artifact.provider %q", c.Artifact.Provider)
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	if len(c.Search.Providers) == 0 {
		return fmt.Errorf("search.providers must name at least one provider")
	}
	for _, p := range c.Search.Providers {
		if p != "web" && p != "rss" {
			return fmt.Errorf("unknown search provider %q", p)
		}
	}
	return nil
}

// RetryBaseDelay converts the queue retry base into a duration.
func (c QueueConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// MaxRetryDelay converts the queue retry cap into a duration.
func (c QueueConfig) MaxRetryDelay() time.Duration {
	return time.Duration(c.MaxRetryDelayMs) * time.Millisecond
}
