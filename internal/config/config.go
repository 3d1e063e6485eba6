// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Run     RunConfig     `mapstructure:"run"`
	Search  SearchConfig  `mapstructure:"search"`
	Enrich  EnrichConfig  `mapstructure:"enrich"`
	OCR     OCRConfig     `mapstructure:"ocr"`
	Store   StoreConfig   `mapstructure:"store"`
	Sink    SinkConfig    `mapstructure:"sink"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// RunConfig is the per-run harvest request. Its fields carry validation
// tags because they arrive from operators, not from code.
type RunConfig struct {
	Keyword            string `mapstructure:"keyword" validate:"required,max=200"`
	Department         string `mapstructure:"department" validate:"max=200"`
	Institution        string `mapstructure:"institution" validate:"max=200"`
	MaxItems           int    `mapstructure:"max_items" validate:"min=1,max=500"`
	BatchSize          int    `mapstructure:"batch_size" validate:"min=1,max=100"`
	Concurrency        int    `mapstructure:"concurrency" validate:"min=1,max=5"`
	RetryBudget        int    `mapstructure:"retry_budget" validate:"min=0,max=10"`
	CheckpointInterval int    `mapstructure:"checkpoint_interval" validate:"min=1"`
}

// SearchConfig configures the directory search client.
type SearchConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	RequestDelayMs int    `mapstructure:"request_delay_ms"`
}

// EnrichConfig configures the headless detail-page fetcher.
type EnrichConfig struct {
	UserAgent     string `mapstructure:"user_agent"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	MaxLeases     int    `mapstructure:"max_leases"`
}

// OCRConfig points at the optional contact-recovery service.
type OCRConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StoreConfig selects the progress/candidate key-value backend.
type StoreConfig struct {
	Backend string          `mapstructure:"backend"` // memory, file, redis
	File    FileStoreConfig `mapstructure:"file"`
	Redis   RedisConfig     `mapstructure:"redis"`
}

// FileStoreConfig holds settings for the directory-backed store.
type FileStoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// RedisConfig holds settings for the Redis-backed store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// SinkConfig selects the output record destination.
type SinkConfig struct {
	Backend string `mapstructure:"backend"` // jsonl, postgres, memory
	Path    string `mapstructure:"path"`    // jsonl output path
	DSN     string `mapstructure:"dsn"`     // postgres connection string
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("run.max_items", 100)
	v.SetDefault("run.batch_size", 10)
	v.SetDefault("run.concurrency", 2)
	v.SetDefault("run.retry_budget", 2)
	v.SetDefault("run.checkpoint_interval", 25)
	v.SetDefault("search.user_agent", "facultydir-harvester/0.1")
	v.SetDefault("search.timeout_seconds", 15)
	v.SetDefault("search.request_delay_ms", 500)
	v.SetDefault("enrich.max_parallel", 1)
	v.SetDefault("enrich.nav_timeout_seconds", 25)
	v.SetDefault("enrich.max_leases", 40)
	v.SetDefault("ocr.timeout_seconds", 10)
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.file.dir", "state")
	v.SetDefault("store.redis.prefix", "facultydir")
	v.SetDefault("sink.backend", "jsonl")
	v.SetDefault("sink.path", "records.jsonl")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. Run parameters
// are checked through struct tags; the rest through cross-field rules the
// tags cannot express.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if err := validator.New().Struct(c.Run); err != nil {
		return fmt.Errorf("run config invalid: %w", err)
	}
	if c.Search.BaseURL == "" {
		return fmt.Errorf("search.base_url must be set")
	}
	if c.Search.TimeoutSeconds <= 0 {
		return fmt.Errorf("search.timeout_seconds must be > 0")
	}
	switch c.Store.Backend {
	case "memory":
	case "file":
		if c.Store.File.Dir == "" {
			return fmt.Errorf("store.file.dir must be set for the file backend")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("store.backend must be one of memory, file, redis")
	}
	switch c.Sink.Backend {
	case "memory":
	case "jsonl":
		if c.Sink.Path == "" {
			return fmt.Errorf("sink.path must be set for the jsonl backend")
		}
	case "postgres":
		if c.Sink.DSN == "" {
			return fmt.Errorf("sink.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("sink.backend must be one of memory, jsonl, postgres")
	}
	return nil
}

// SearchTimeout converts the configured search timeout into a duration.
func (c Config) SearchTimeout() time.Duration {
	return time.Duration(c.Search.TimeoutSeconds) * time.Second
}

// RequestDelay converts the configured courtesy delay into a duration.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.Search.RequestDelayMs) * time.Millisecond
}
