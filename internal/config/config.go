// Package config provides configuration for the schema service and its tools.
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

// Snapshot store types.
const (
	SnapshotsNone  = "none"
	SnapshotsLocal = "local"
	SnapshotsS3    = "s3"
)

// Config holds the configuration of udtd.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// gRPC configuration
	GRPC GRPCConfig `json:"grpc" yaml:"grpc"`

	// Catalog configuration
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`

	// Rows configuration
	Rows RowsConfig `json:"rows" yaml:"rows"`

	// Snapshots configuration
	Snapshots SnapshotConfig `json:"snapshots" yaml:"snapshots"`

	// Executor configuration
	Executor ExecutorConfig `json:"executor" yaml:"executor"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether the HTTP API is served
	Enabled bool `json:"enabled" yaml:"enabled"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether gRPC is enabled
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// CatalogConfig holds the durable catalog configuration.
type CatalogConfig struct {
	// Path is the catalog database file
	Path string `json:"path" yaml:"path"`
}

// RowsConfig holds row store configuration.
type RowsConfig struct {
	// Path is the row database file
	Path string `json:"path" yaml:"path"`

	// Compression stores cell values snappy-compressed
	Compression bool `json:"compression" yaml:"compression"`
}

// SnapshotConfig holds schema snapshot configuration.
type SnapshotConfig struct {
	// Type is the snapshot store: none, local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local snapshot directory (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`

	// RestoreOnStart loads the latest snapshots into an empty catalog
	RestoreOnStart bool `json:"restore_on_start" yaml:"restore_on_start"`

	// ExportOnShutdown writes a snapshot of every keyspace on shutdown
	ExportOnShutdown bool `json:"export_on_shutdown" yaml:"export_on_shutdown"`

	// Retain is how many snapshots per keyspace an export keeps; 0 keeps all
	Retain int `json:"retain" yaml:"retain"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// Prefix is prepended to every object key
	Prefix string `json:"prefix" yaml:"prefix"`
}

// ExecutorConfig holds statement executor configuration.
type ExecutorConfig struct {
	// MaxConcurrentStatements bounds concurrently executing batch lanes
	MaxConcurrentStatements int `json:"max_concurrent_statements" yaml:"max_concurrent_statements"`

	// DefaultKeyspace is the session keyspace for requests that name none
	DefaultKeyspace string `json:"default_keyspace" yaml:"default_keyspace"`

	// StatsWindow is how long statement statistics are kept
	StatsWindow time.Duration `json:"stats_window" yaml:"stats_window"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/udt",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			Enabled:      true,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Rows: RowsConfig{
			Compression: true,
		},
		Snapshots: SnapshotConfig{
			Type:   SnapshotsLocal,
			S3:     S3Config{Region: "us-east-1"},
			Retain: 10,
		},
		Executor: ExecutorConfig{
			MaxConcurrentStatements: 8,
			StatsWindow:             time.Hour,
		},
	}
}

// Resolve fills in paths derived from DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/udt"
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.DataDir, "catalog.db")
	}
	if c.Rows.Path == "" {
		c.Rows.Path = filepath.Join(c.DataDir, "rows.db")
	}
	if c.Snapshots.Type == SnapshotsLocal && c.Snapshots.Path == "" {
		c.Snapshots.Path = filepath.Join(c.DataDir, "snapshots")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if !c.HTTP.Enabled && !c.GRPC.Enabled {
		return fmt.Errorf("at least one of http and grpc must be enabled")
	}

	switch c.Snapshots.Type {
	case SnapshotsNone, SnapshotsLocal:
	case SnapshotsS3:
		if c.Snapshots.S3.Bucket == "" {
			return fmt.Errorf("snapshots.s3.bucket is required when snapshot type is s3")
		}
	default:
		return fmt.Errorf("invalid snapshot type: %s (must be none, local, or s3)", c.Snapshots.Type)
	}
	if c.Snapshots.Type == SnapshotsNone && (c.Snapshots.RestoreOnStart || c.Snapshots.ExportOnShutdown) {
		return fmt.Errorf("snapshot restore and export need a snapshot store")
	}

	if c.Snapshots.Retain < 0 {
		return fmt.Errorf("snapshots.retain must not be negative, got %d", c.Snapshots.Retain)
	}

	if c.Executor.MaxConcurrentStatements < 1 {
		return fmt.Errorf("executor.max_concurrent_statements must be at least 1, got %d", c.Executor.MaxConcurrentStatements)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
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

// LoadFromEnv applies UDT_* environment variables to cfg. Malformed numbers,
// booleans and durations are reported rather than ignored.
func LoadFromEnv(cfg *Config) error {
	env := envReader{}

	env.str("UDT_DATA_DIR", &cfg.DataDir)

	env.str("UDT_HTTP_ADDR", &cfg.HTTP.Addr)
	env.boolean("UDT_HTTP_ENABLED", &cfg.HTTP.Enabled)
	env.duration("UDT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	env.duration("UDT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)
	env.duration("UDT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout)

	env.str("UDT_GRPC_ADDR", &cfg.GRPC.Addr)
	env.boolean("UDT_GRPC_ENABLED", &cfg.GRPC.Enabled)

	env.str("UDT_CATALOG_PATH", &cfg.Catalog.Path)
	env.str("UDT_ROWS_PATH", &cfg.Rows.Path)
	env.boolean("UDT_ROWS_COMPRESSION", &cfg.Rows.Compression)

	env.str("UDT_SNAPSHOTS_TYPE", &cfg.Snapshots.Type)
	env.str("UDT_SNAPSHOTS_PATH", &cfg.Snapshots.Path)
	env.boolean("UDT_SNAPSHOTS_RESTORE_ON_START", &cfg.Snapshots.RestoreOnStart)
	env.boolean("UDT_SNAPSHOTS_EXPORT_ON_SHUTDOWN", &cfg.Snapshots.ExportOnShutdown)
	env.integer("UDT_SNAPSHOTS_RETAIN", &cfg.Snapshots.Retain)
	env.str("UDT_S3_BUCKET", &cfg.Snapshots.S3.Bucket)
	env.str("UDT_S3_REGION", &cfg.Snapshots.S3.Region)
	env.str("UDT_S3_ENDPOINT", &cfg.Snapshots.S3.Endpoint)
	env.boolean("UDT_S3_USE_PATH_STYLE", &cfg.Snapshots.S3.UsePathStyle)
	env.str("UDT_S3_PREFIX", &cfg.Snapshots.S3.Prefix)

	env.integer("UDT_EXECUTOR_MAX_CONCURRENT_STATEMENTS", &cfg.Executor.MaxConcurrentStatements)
	env.str("UDT_EXECUTOR_DEFAULT_KEYSPACE", &cfg.Executor.DefaultKeyspace)
	env.duration("UDT_EXECUTOR_STATS_WINDOW", &cfg.Executor.StatsWindow)

	return env.err
}

// envReader applies environment variables, keeping the first parse error.
type envReader struct {
	err error
}

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return v, ok && v != ""
}

func (e *envReader) fail(key, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}

// EnsureDirectories creates the directories the configured files live in.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Catalog.Path),
		filepath.Dir(c.Rows.Path),
	}
	if c.Snapshots.Type == SnapshotsLocal {
		dirs = append(dirs, c.Snapshots.Path)
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
