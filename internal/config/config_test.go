package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Backend != BackendMemory {
		t.Fatalf("expected memory backend, got %q", cfg.Store.Backend)
	}
	if cfg.Writer.BufferSize != 100 || cfg.Writer.TokenMultiplier != 15 {
		t.Fatalf("unexpected writer defaults: %+v", cfg.Writer)
	}
	if got := cfg.Writer.TokenBufferSize(); got != 1500 {
		t.Fatalf("expected token buffer 1500, got %d", got)
	}
	if cfg.Writer.FlushTimeout != 30*time.Second || cfg.Writer.MaxMergeRetries != 3 {
		t.Fatalf("unexpected writer defaults: %+v", cfg.Writer)
	}
	if cfg.Queue.Capacity != 0 || cfg.Workers.Count != 4 || cfg.Server.Port != 0 {
		t.Fatalf("unexpected pipeline defaults: %+v %+v %+v", cfg.Queue, cfg.Workers, cfg.Server)
	}
	if cfg.Intake.RPS != 0 || cfg.Intake.Burst != 10 {
		t.Fatalf("unexpected intake defaults: %+v", cfg.Intake)
	}
	if cfg.Store.Collections.PageTokens != "page_tokens" {
		t.Fatalf("unexpected collection defaults: %+v", cfg.Store.Collections)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: true
store:
  backend: postgres
  timeout: 5s
  collections:
    pages: crawl_pages
  postgres:
    dsn: postgres://localhost/crawl
    max_conns: 16
    max_conn_lifetime: 30m
writer:
  buffer_size: 50
  token_multiplier: 4
  flush_timeout: 1m
  max_merge_retries: 5
queue:
  capacity: 1000
workers:
  count: 8
server:
  port: 9090
summary:
  backend: local
  prefix: runs
  append_file: summary_stats.txt
  local:
    base_dir: /tmp/summaries
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Logging.Development {
		t.Fatal("expected development logging")
	}
	if cfg.Store.Backend != BackendPostgres || cfg.Store.Timeout != 5*time.Second {
		t.Fatalf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Store.Collections.Pages != "crawl_pages" || cfg.Store.Collections.Images != "images" {
		t.Fatalf("expected partial collection override: %+v", cfg.Store.Collections)
	}
	if cfg.Store.Postgres.MaxConns != 16 || cfg.Store.Postgres.MaxConnLifetime != 30*time.Minute {
		t.Fatalf("unexpected postgres config: %+v", cfg.Store.Postgres)
	}
	if cfg.Writer.TokenBufferSize() != 200 || cfg.Writer.FlushTimeout != time.Minute {
		t.Fatalf("unexpected writer config: %+v", cfg.Writer)
	}
	if cfg.Queue.Capacity != 1000 || cfg.Workers.Count != 8 || cfg.Server.Port != 9090 {
		t.Fatalf("unexpected pipeline config")
	}
	if cfg.Summary.Prefix != "runs" || cfg.Summary.Local.BaseDir != "/tmp/summaries" {
		t.Fatalf("unexpected summary config: %+v", cfg.Summary)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("INGEST_STORE_BACKEND", "mongo")
	t.Setenv("INGEST_STORE_MONGO_DATABASE", "search")
	t.Setenv("INGEST_WORKERS_COUNT", "2")
	t.Setenv("INGEST_PUBSUB_PROJECT_ID", "proj")
	t.Setenv("INGEST_PUBSUB_SUBSCRIPTION", "records")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Backend != BackendMongo || cfg.Store.Mongo.Database != "search" {
		t.Fatalf("expected env overrides: %+v", cfg.Store)
	}
	if cfg.Workers.Count != 2 {
		t.Fatalf("expected 2 workers, got %d", cfg.Workers.Count)
	}
	if cfg.PubSub.Subscription != "records" {
		t.Fatalf("expected subscription from env, got %q", cfg.PubSub.Subscription)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }, "store.backend"},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = BackendPostgres }, "store.postgres.dsn"},
		{"same token collections", func(c *Config) { c.Store.Collections.ImageTokens = "page_tokens" }, "distinct"},
		{"zero buffer", func(c *Config) { c.Writer.BufferSize = 0 }, "writer.buffer_size"},
		{"negative retries", func(c *Config) { c.Writer.MaxMergeRetries = -1 }, "writer.max_merge_retries"},
		{"negative capacity", func(c *Config) { c.Queue.Capacity = -1 }, "queue.capacity"},
		{"no workers", func(c *Config) { c.Workers.Count = 0 }, "workers.count"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"gcs without bucket", func(c *Config) { c.Summary.Backend = SummaryGCS }, "summary.gcs.bucket"},
		{"append without local", func(c *Config) { c.Summary.AppendFile = "stats.txt" }, "summary.append_file"},
		{"topic without project", func(c *Config) { c.Summary.Topic = "summaries" }, "pubsub.project_id"},
		{"negative intake rps", func(c *Config) { c.Intake.RPS = -1 }, "intake.rps"},
		{"intake without burst", func(c *Config) { c.Intake.RPS = 5; c.Intake.Burst = 0 }, "intake.burst"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tc.want)
			}
		})
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
