// Package config loads and validates bridge configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig  `mapstructure:"server"`
	Auth     AuthConfig    `mapstructure:"auth"`
	Webhook  WebhookConfig `mapstructure:"webhook"`
	DB       DBConfig      `mapstructure:"db"`
	Queue    QueueConfig   `mapstructure:"queue"`
	Indexer  IndexerConfig `mapstructure:"indexer"`
	Vector   VectorConfig  `mapstructure:"vector"`
	Engine   EngineConfig  `mapstructure:"engine"`
	Sessions SessionConfig `mapstructure:"sessions"`
	Logging  LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig guards the read-side API endpoints.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// WebhookConfig holds the shared secret and background-work budget for
// inbound crawl events.
type WebhookConfig struct {
	Secret             string `mapstructure:"secret"`
	DispatchTimeoutSec int    `mapstructure:"dispatch_timeout_seconds"`
}

// DBConfig controls access to the relational store.
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// QueueConfig selects and sizes the index job queue.
type QueueConfig struct {
	Provider       string `mapstructure:"provider"`
	Depth          int    `mapstructure:"depth"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms"`
}

// IndexerConfig governs the indexing worker pool.
type IndexerConfig struct {
	Workers         int `mapstructure:"workers"`
	MaxAttempts     int `mapstructure:"max_attempts"`
	ChunkTokens     int `mapstructure:"chunk_tokens"`
	StageTimeoutSec int `mapstructure:"stage_timeout_seconds"`
	EmbeddingDim    int `mapstructure:"embedding_dim"`
}

// VectorConfig selects the vector sink backend.
type VectorConfig struct {
	Provider string `mapstructure:"provider"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EngineConfig points at the upstream crawl engine's fetch API.
type EngineConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// SessionConfig holds the terminal-status policy knobs.
type SessionConfig struct {
	// FailureRatio marks an otherwise-successful session failed when
	// failed_urls/total_urls exceeds it. 1.0 disables the policy.
	FailureRatio float64 `mapstructure:"failure_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLBRIDGE")
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
	v.SetDefault("webhook.dispatch_timeout_seconds", 120)
	v.SetDefault("db.provider", "postgres")
	v.SetDefault("db.max_conns", 16)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("queue.provider", "postgres")
	v.SetDefault("queue.depth", 256)
	v.SetDefault("queue.poll_interval_ms", 250)
	v.SetDefault("indexer.workers", 4)
	v.SetDefault("indexer.max_attempts", 3)
	v.SetDefault("indexer.chunk_tokens", 512)
	v.SetDefault("indexer.stage_timeout_seconds", 60)
	v.SetDefault("indexer.embedding_dim", 256)
	v.SetDefault("vector.provider", "memory")
	v.SetDefault("engine.timeout_seconds", 30)
	v.SetDefault("sessions.failure_ratio", 0.5)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. Missing
// credentials fail here, before the service accepts traffic.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Webhook.Secret == "" {
		return fmt.Errorf("webhook.secret is required")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.DB.Provider == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.provider is postgres")
	}
	if c.Queue.Provider == "postgres" && c.DB.Provider != "postgres" {
		return fmt.Errorf("queue.provider postgres requires db.provider postgres")
	}
	if c.Vector.Provider == "redis" && c.Vector.Addr == "" {
		return fmt.Errorf("vector.addr is required when vector.provider is redis")
	}
	if c.Indexer.Workers <= 0 {
		return fmt.Errorf("indexer.workers must be > 0")
	}
	if c.Indexer.MaxAttempts <= 0 {
		return fmt.Errorf("indexer.max_attempts must be > 0")
	}
	if c.Indexer.ChunkTokens <= 0 {
		return fmt.Errorf("indexer.chunk_tokens must be > 0")
	}
	if c.Sessions.FailureRatio < 0 || c.Sessions.FailureRatio > 1 {
		return fmt.Errorf("sessions.failure_ratio must be within [0, 1]")
	}
	return nil
}

// DispatchTimeout returns the budget granted to fire-and-forget work
// spawned by the webhook handler.
func (c Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Webhook.DispatchTimeoutSec) * time.Second
}

// StageTimeout returns the per-stage budget for indexing work.
func (c Config) StageTimeout() time.Duration {
	return time.Duration(c.Indexer.StageTimeoutSec) * time.Second
}
