// Package config loads service configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

// Summary backends.
const (
	SummaryNone  = "none"
	SummaryLocal = "local"
	SummaryGCS   = "gcs"
)

// Config is the root configuration structure.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Store   StoreConfig   `mapstructure:"store"`
	Writer  WriterConfig  `mapstructure:"writer"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Workers WorkersConfig `mapstructure:"workers"`
	Server  ServerConfig  `mapstructure:"server"`
	Summary SummaryConfig `mapstructure:"summary"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Intake  IntakeConfig  `mapstructure:"intake"`
}

// LoggingConfig selects the zap preset and level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Backend     string            `mapstructure:"backend"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	AutoMigrate bool              `mapstructure:"auto_migrate"`
	Collections CollectionsConfig `mapstructure:"collections"`
	Mongo       MongoConfig       `mapstructure:"mongo"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
}

// CollectionsConfig names the four collections (tables for postgres).
type CollectionsConfig struct {
	Pages       string `mapstructure:"pages"`
	Images      string `mapstructure:"images"`
	PageTokens  string `mapstructure:"page_tokens"`
	ImageTokens string `mapstructure:"image_tokens"`
}

// MongoConfig holds connection settings for the mongo backend.
type MongoConfig struct {
	URI           string `mapstructure:"uri"`
	Database      string `mapstructure:"database"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	AuthSource    string `mapstructure:"auth_source"`
	AuthMechanism string `mapstructure:"auth_mechanism"`
}

// PostgresConfig holds pool settings for the postgres backend.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// WriterConfig sizes the buffered writers.
type WriterConfig struct {
	BufferSize      int           `mapstructure:"buffer_size"`
	TokenMultiplier int           `mapstructure:"token_multiplier"`
	FlushTimeout    time.Duration `mapstructure:"flush_timeout"`
	MaxMergeRetries int           `mapstructure:"max_merge_retries"`
}

// TokenBufferSize is the threshold of the token writers.
func (w WriterConfig) TokenBufferSize() int {
	return w.BufferSize * w.TokenMultiplier
}

// QueueConfig bounds the ingestion queue. Capacity 0 is unbounded.
type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// WorkersConfig sizes the worker pool.
type WorkersConfig struct {
	Count int `mapstructure:"count"`
}

// ServerConfig configures the ops HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SummaryConfig controls where end-of-run summaries go besides the log.
type SummaryConfig struct {
	Backend    string      `mapstructure:"backend"`
	Prefix     string      `mapstructure:"prefix"`
	AppendFile string      `mapstructure:"append_file"`
	Topic      string      `mapstructure:"topic"`
	Local      LocalConfig `mapstructure:"local"`
	GCS        GCSConfig   `mapstructure:"gcs"`
}

// LocalConfig is the directory summaries are written under.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSConfig is the bucket summaries are uploaded to.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// PubSubConfig configures the record subscription and summary topic.
type PubSubConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	Subscription   string `mapstructure:"subscription"`
	MaxOutstanding int    `mapstructure:"max_outstanding"`
}

// IntakeConfig throttles record intake per host. RPS 0 disables it.
type IntakeConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Load reads configuration from path (optional) and INGEST_* environment
// variables, then validates it.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
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

// Every key gets a default so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.timeout", 10*time.Second)
	v.SetDefault("store.auto_migrate", true)
	v.SetDefault("store.collections.pages", "pages")
	v.SetDefault("store.collections.images", "images")
	v.SetDefault("store.collections.page_tokens", "page_tokens")
	v.SetDefault("store.collections.image_tokens", "image_tokens")
	v.SetDefault("store.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo.database", "crawler")
	v.SetDefault("store.mongo.username", "")
	v.SetDefault("store.mongo.password", "")
	v.SetDefault("store.mongo.auth_source", "admin")
	v.SetDefault("store.mongo.auth_mechanism", "")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 8)
	v.SetDefault("store.postgres.min_conns", 0)
	v.SetDefault("store.postgres.max_conn_lifetime", time.Hour)

	v.SetDefault("writer.buffer_size", 100)
	v.SetDefault("writer.token_multiplier", 15)
	v.SetDefault("writer.flush_timeout", 30*time.Second)
	v.SetDefault("writer.max_merge_retries", 3)

	v.SetDefault("queue.capacity", 0)
	v.SetDefault("workers.count", 4)
	v.SetDefault("server.port", 0)

	v.SetDefault("summary.backend", SummaryNone)
	v.SetDefault("summary.prefix", "summaries")
	v.SetDefault("summary.append_file", "")
	v.SetDefault("summary.topic", "")
	v.SetDefault("summary.local.base_dir", ".")
	v.SetDefault("summary.gcs.bucket", "")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.subscription", "")
	v.SetDefault("pubsub.max_outstanding", 100)

	v.SetDefault("intake.rps", 0.0)
	v.SetDefault("intake.burst", 10)
}

// Validate performs semantic validation of the configuration.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendMemory:
	case BackendMongo:
		if c.Store.Mongo.URI == "" || c.Store.Mongo.Database == "" {
			errs = append(errs, errors.New("store.mongo.uri and store.mongo.database are required for the mongo backend"))
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			errs = append(errs, errors.New("store.postgres.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of memory, mongo, postgres", c.Store.Backend))
	}
	if c.Store.Timeout <= 0 {
		errs = append(errs, errors.New("store.timeout must be > 0"))
	}
	cols := c.Store.Collections
	if cols.Pages == "" || cols.Images == "" || cols.PageTokens == "" || cols.ImageTokens == "" {
		errs = append(errs, errors.New("store.collections names must be set"))
	}
	if cols.PageTokens == cols.ImageTokens || cols.Pages == cols.Images {
		errs = append(errs, errors.New("store.collections names must be distinct"))
	}

	if c.Writer.BufferSize <= 0 {
		errs = append(errs, errors.New("writer.buffer_size must be > 0"))
	}
	if c.Writer.TokenMultiplier <= 0 {
		errs = append(errs, errors.New("writer.token_multiplier must be > 0"))
	}
	if c.Writer.FlushTimeout <= 0 {
		errs = append(errs, errors.New("writer.flush_timeout must be > 0"))
	}
	if c.Writer.MaxMergeRetries < 0 {
		errs = append(errs, errors.New("writer.max_merge_retries must be >= 0"))
	}
	if c.Queue.Capacity < 0 {
		errs = append(errs, errors.New("queue.capacity must be >= 0"))
	}
	if c.Workers.Count <= 0 {
		errs = append(errs, errors.New("workers.count must be > 0"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.New("server.port must be between 0 and 65535"))
	}

	switch c.Summary.Backend {
	case SummaryNone:
	case SummaryLocal:
		if c.Summary.Local.BaseDir == "" {
			errs = append(errs, errors.New("summary.local.base_dir is required for the local summary backend"))
		}
	case SummaryGCS:
		if c.Summary.GCS.Bucket == "" {
			errs = append(errs, errors.New("summary.gcs.bucket is required for the gcs summary backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("summary.backend %q is not one of none, local, gcs", c.Summary.Backend))
	}
	if c.Summary.AppendFile != "" && c.Summary.Backend != SummaryLocal {
		errs = append(errs, errors.New("summary.append_file is only supported by the local summary backend"))
	}
	if (c.PubSub.Subscription != "" || c.Summary.Topic != "") && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id is required when a subscription or summary topic is set"))
	}
	if c.PubSub.MaxOutstanding < 0 {
		errs = append(errs, errors.New("pubsub.max_outstanding must be >= 0"))
	}
	if c.Intake.RPS < 0 {
		errs = append(errs, errors.New("intake.rps must be >= 0"))
	}
	if c.Intake.RPS > 0 && c.Intake.Burst <= 0 {
		errs = append(errs, errors.New("intake.burst must be > 0 when intake.rps is set"))
	}
	return errors.Join(errs...)
}
