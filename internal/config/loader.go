package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr      string   `json:"addr" yaml:"addr" toml:"addr"`
	Database  Database `json:"database" yaml:"database" toml:"database"`
	ModelsDir string   `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	ImagesDir string   `json:"images_dir" yaml:"images_dir" toml:"images_dir"`
	Log       Log      `json:"log" yaml:"log" toml:"log"`
	Renderer  Renderer `json:"renderer" yaml:"renderer" toml:"renderer"`
	Worker    Worker   `json:"worker" yaml:"worker" toml:"worker"`

	ShutdownTimeoutSeconds int   `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds"`
	MaxBodyBytes           int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	CORS  CORS  `json:"cors" yaml:"cors" toml:"cors"`
	MinIO MinIO `json:"minio" yaml:"minio" toml:"minio"`
}

type Database struct {
	// sqlite, pgx or postgres
	Driver string `json:"driver" yaml:"driver" toml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn" toml:"dsn"`
}

type Log struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"` // json or console
}

// Renderer selects the pipeline each worker process runs.
type Renderer struct {
	Kind    string   `json:"kind" yaml:"kind" toml:"kind"` // placeholder or exec
	Command string   `json:"command" yaml:"command" toml:"command"`
	Args    []string `json:"args" yaml:"args" toml:"args"`
}

// Worker controls how worker processes are started.
type Worker struct {
	// exec re-executes Bin (default: this binary) with the worker subcommand;
	// inprocess runs the worker loop on goroutines (development only).
	Mode string `json:"mode" yaml:"mode" toml:"mode"`
	Bin  string `json:"bin" yaml:"bin" toml:"bin"`
}

type CORS struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
}

// MinIO configures the optional mirror of finished images. Empty Endpoint
// disables it.
type MinIO struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key" toml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key" toml:"secret_key"`
	Bucket    string `json:"bucket" yaml:"bucket" toml:"bucket"`
	Prefix    string `json:"prefix" yaml:"prefix" toml:"prefix"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl" toml:"use_ssl"`
}

// Defaults for unspecified fields.
const (
	DefaultAddr                   = ":8080"
	DefaultDriver                 = "sqlite"
	DefaultDSN                    = "imaged.db"
	DefaultModelsDir              = "~/models"
	DefaultImagesDir              = "images"
	DefaultShutdownTimeoutSeconds = 10
	DefaultMaxBodyBytes           = 32 << 20
	RendererPlaceholder           = "placeholder"
	RendererExec                  = "exec"
	WorkerModeExec                = "exec"
	WorkerModeInProcess           = "inprocess"
)

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyDefaults fills unspecified fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
	if c.Database.DSN == "" && c.Database.Driver == DefaultDriver {
		c.Database.DSN = DefaultDSN
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.ImagesDir == "" {
		c.ImagesDir = DefaultImagesDir
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Renderer.Kind == "" {
		c.Renderer.Kind = RendererPlaceholder
	}
	if c.Worker.Mode == "" {
		c.Worker.Mode = WorkerModeExec
	}
	if c.ShutdownTimeoutSeconds <= 0 {
		c.ShutdownTimeoutSeconds = DefaultShutdownTimeoutSeconds
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.MinIO.Bucket == "" {
		c.MinIO.Bucket = "imaged"
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite", "sqlite3", "pgx", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn: required"))
	}
	switch c.Renderer.Kind {
	case RendererPlaceholder:
	case RendererExec:
		if strings.TrimSpace(c.Renderer.Command) == "" {
			errs = append(errs, errors.New("renderer.command: required for the exec renderer"))
		}
	default:
		errs = append(errs, fmt.Errorf("renderer.kind: unsupported %q", c.Renderer.Kind))
	}
	if c.Worker.Mode != WorkerModeExec && c.Worker.Mode != WorkerModeInProcess {
		errs = append(errs, fmt.Errorf("worker.mode: unsupported %q", c.Worker.Mode))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format: unsupported %q", c.Log.Format))
	}
	if c.MinIO.Endpoint != "" && (c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "") {
		errs = append(errs, errors.New("minio: access_key and secret_key are required with an endpoint"))
	}
	return errors.Join(errs...)
}
