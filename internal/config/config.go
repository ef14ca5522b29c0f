// Package config provides the service configuration: defaults,
// file and environment overrides, validation, and path resolution.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full service configuration.
type Config struct {
	// DataDir is the base directory for all data files.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Server configuration
	Server ServerConfig `json:"server" yaml:"server"`

	// RateLimit configuration
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`

	// Queue configuration
	Queue QueueConfig `json:"queue" yaml:"queue"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Persist configuration
	Persist PersistConfig `json:"persist" yaml:"persist"`

	// DLQ configuration
	DLQ DLQConfig `json:"dlq" yaml:"dlq"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout.
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout.
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// MaxBodyBytes caps the wire size of an ingest request body.
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes"`

	// ShutdownTimeout caps graceful teardown.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`

	// DrainTimeout caps the wait for in-flight requests on shutdown.
	DrainTimeout time.Duration `json:"drain_timeout" yaml:"drain_timeout"`
}

// RateLimitConfig holds per-client admission control settings.
type RateLimitConfig struct {
	// Capacity is the burst size per client (tokens per bucket).
	Capacity int64 `json:"capacity" yaml:"capacity"`

	// FillInterval is the time for an empty bucket to refill completely.
	FillInterval time.Duration `json:"fill_interval" yaml:"fill_interval"`

	// MaxKeys bounds the number of tracked clients; least recently
	// seen clients are evicted first.
	MaxKeys int `json:"max_keys" yaml:"max_keys"`
}

// QueueConfig holds ingestion queue settings.
type QueueConfig struct {
	// Capacity is the number of batches the queue buffers before
	// submitters block.
	Capacity int `json:"capacity" yaml:"capacity"`
}

// StorageConfig holds event store settings.
type StorageConfig struct {
	// Path is the SQLite database file; empty resolves under DataDir.
	Path string `json:"path" yaml:"path"`
}

// PersistConfig holds background persistence settings.
type PersistConfig struct {
	// MaxRetries bounds re-attempts per batch after the first failure.
	MaxRetries uint64 `json:"max_retries" yaml:"max_retries"`

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`
}

// DLQConfig holds dead-letter queue settings.
type DLQConfig struct {
	// Dir is the dead-letter directory; empty resolves under DataDir.
	Dir string `json:"dir" yaml:"dir"`

	// MaxAge is how long dead-letter files are kept.
	MaxAge time.Duration `json:"max_age" yaml:"max_age"`

	// MaxBytes caps the total size of the dead-letter directory.
	MaxBytes int64 `json:"max_bytes" yaml:"max_bytes"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is the minimum severity emitted.
	Level string `json:"level" yaml:"level"`

	// Pretty switches to human-readable console output.
	Pretty bool `json:"pretty" yaml:"pretty"`

	// SampleN, when > 1, keeps only every Nth debug/info record.
	SampleN uint32 `json:"sample_n" yaml:"sample_n"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/logtide",
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			MaxBodyBytes:    5 * 1024 * 1024,
			ShutdownTimeout: 30 * time.Second,
			DrainTimeout:    15 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Capacity:     100,
			FillInterval: 10 * time.Second,
			MaxKeys:      65536,
		},
		Queue: QueueConfig{
			Capacity: 256,
		},
		Storage: StorageConfig{
			Path: "",
		},
		Persist: PersistConfig{
			MaxRetries:     5,
			InitialBackoff: 100 * time.Millisecond,
		},
		DLQ: DLQConfig{
			Dir:      "",
			MaxAge:   7 * 24 * time.Hour,
			MaxBytes: 256 * 1024 * 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// Resolve fills path defaults relative to DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/logtide"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "logs.db")
	}
	if c.DLQ.Dir == "" {
		c.DLQ.Dir = filepath.Join(c.DataDir, "dlq")
	}
}

// Validate checks the configuration for values the service cannot run
// with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.RateLimit.Capacity <= 0 {
		return fmt.Errorf("rate_limit.capacity must be positive, got %d", c.RateLimit.Capacity)
	}
	if c.RateLimit.FillInterval <= 0 {
		return fmt.Errorf("rate_limit.fill_interval must be positive, got %s", c.RateLimit.FillInterval)
	}
	if c.RateLimit.MaxKeys <= 0 {
		return fmt.Errorf("rate_limit.max_keys must be positive, got %d", c.RateLimit.MaxKeys)
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive, got %d", c.Queue.Capacity)
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes must not be negative, got %d", c.Server.MaxBodyBytes)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of
// the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv applies LOGTIDE_-prefixed environment overrides.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("LOGTIDE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LOGTIDE_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("LOGTIDE_SERVER_MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Server.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("LOGTIDE_RATE_LIMIT_CAPACITY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.RateLimit.Capacity = n
		}
	}
	if v := os.Getenv("LOGTIDE_RATE_LIMIT_FILL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RateLimit.FillInterval = d
		}
	}
	if v := os.Getenv("LOGTIDE_RATE_LIMIT_MAX_KEYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.MaxKeys = n
		}
	}
	if v := os.Getenv("LOGTIDE_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Capacity = n
		}
	}
	if v := os.Getenv("LOGTIDE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("LOGTIDE_PERSIST_MAX_RETRIES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Persist.MaxRetries = n
		}
	}
	if v := os.Getenv("LOGTIDE_DLQ_DIR"); v != "" {
		cfg.DLQ.Dir = v
	}
	if v := os.Getenv("LOGTIDE_DLQ_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DLQ.MaxAge = d
		}
	}
	if v := os.Getenv("LOGTIDE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOGTIDE_LOG_PRETTY"); v != "" {
		cfg.Logging.Pretty = v == "true" || v == "1"
	}
}

// EnsureDirectories creates the directories the service writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Storage.Path),
		c.DLQ.Dir,
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
