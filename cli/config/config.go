// Package config provides configuration management for the stoat CLI.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverBadger   = "badger"
)

// Drivers lists every supported storage driver.
var Drivers = []string{DriverMemory, DriverPostgres, DriverSQLite, DriverBadger}

// Config represents the stoat CLI configuration
type Config struct {
	// Version of the config file format
	Version string `yaml:"version"`

	Project ProjectConfig `yaml:"project"`
	Storage StorageConfig `yaml:"storage"`
	Engine  EngineConfig  `yaml:"engine"`
	Log     LogConfig     `yaml:"log"`
}

// ProjectConfig contains project-level settings
type ProjectConfig struct {
	// Name of the project
	Name string `yaml:"name" env:"STOAT_PROJECT_NAME" validate:"required"`

	// Module is the Go module path
	Module string `yaml:"module,omitempty"`
}

// StorageConfig selects and configures the event store backend.
type StorageConfig struct {
	Driver string `yaml:"driver" env:"STOAT_STORAGE_DRIVER" validate:"required,oneof=memory postgres sqlite badger"`

	// URL is the postgres connection string. It may reference environment
	// variables such as ${DATABASE_URL}.
	URL string `yaml:"url,omitempty" env:"STOAT_STORAGE_URL" validate:"required_if=Driver postgres"`

	// SQLDriver is the database/sql driver for postgres: pgx or postgres (lib/pq).
	SQLDriver string `yaml:"sql_driver,omitempty" env:"STOAT_STORAGE_SQL_DRIVER" validate:"omitempty,oneof=pgx postgres"`

	// Schema is the postgres schema.
	Schema string `yaml:"schema,omitempty" env:"STOAT_STORAGE_SCHEMA"`

	// Path is the sqlite file or badger directory.
	Path string `yaml:"path,omitempty" env:"STOAT_STORAGE_PATH" validate:"required_if=Driver sqlite,required_if=Driver badger"`
}

// EngineConfig holds engine tuning.
type EngineConfig struct {
	DispatchTimeout time.Duration `yaml:"dispatch_timeout" env:"STOAT_DISPATCH_TIMEOUT" validate:"gte=0"`
	CommandTimeout  time.Duration `yaml:"command_timeout" env:"STOAT_COMMAND_TIMEOUT" validate:"gte=0"`
	SnapshotEvery   uint64        `yaml:"snapshot_every" env:"STOAT_SNAPSHOT_EVERY"`
}

// LogConfig configures the CLI logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"STOAT_LOG_LEVEL" validate:"required,oneof=debug info warn error"`
	Format string `yaml:"format" env:"STOAT_LOG_FORMAT" validate:"required,oneof=text json"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Project: ProjectConfig{
			Name: "my-stoat-app",
		},
		Storage: StorageConfig{
			Driver: DriverMemory,
			Schema: "stoat",
		},
		Engine: EngineConfig{
			DispatchTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConfigFileName is the default config file name
const ConfigFileName = "stoat.yaml"

// Load loads configuration from the specified directory
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile loads configuration from a file, fills unset fields from
// DefaultConfig and applies environment overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from STOAT_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	return nil
}

// Save saves the configuration to the specified directory
func (c *Config) Save(dir string) error {
	return c.SaveFile(filepath.Join(dir, ConfigFileName))
}

// SaveFile saves the configuration to a specific file path
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Exists checks if a config file exists in the directory
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// FindConfig searches for a config file starting from dir and going up
func FindConfig(dir string) (string, *Config, error) {
	current := dir
	for {
		configPath := filepath.Join(current, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			cfg, err := LoadFile(configPath)
			if err != nil {
				return "", nil, err
			}
			return current, cfg, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", nil, os.ErrNotExist
		}
		current = parent
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration and returns one message per problem.
func (c *Config) Validate() []string {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, describe(fe))
	}
	return problems
}

func describe(fe validator.FieldError) string {
	field := yamlPath(fe.StructNamespace())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "required_if":
		return fmt.Sprintf("%s is required when %s", field, strings.Replace(fe.Param(), " ", " is ", 1))
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte":
		return fmt.Sprintf("%s must not be negative", field)
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

var yamlNames = map[string]string{
	"Project": "project", "Name": "name", "Module": "module",
	"Storage": "storage", "Driver": "driver", "URL": "url", "SQLDriver": "sql_driver",
	"Schema": "schema", "Path": "path",
	"Engine": "engine", "DispatchTimeout": "dispatch_timeout", "CommandTimeout": "command_timeout",
	"SnapshotEvery": "snapshot_every",
	"Log": "log", "Level": "level", "Format": "format",
}

// yamlPath turns "Config.Storage.URL" into "storage.url".
func yamlPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		if n, ok := yamlNames[p]; ok {
			parts[i] = n
		}
	}
	return strings.Join(parts, ".")
}

// StorageURL returns the storage URL with environment variables expanded.
func (c *Config) StorageURL() string {
	return os.ExpandEnv(c.Storage.URL)
}

// SlogLevel returns the configured level.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger builds the CLI logger writing to w.
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// GenerateYAML generates YAML content with comments
func GenerateYAML(cfg *Config) string {
	var b strings.Builder
	b.WriteString(`# Stoat Configuration File
# Values can be overridden with STOAT_* environment variables.

version: "1"

project:
  name: "` + cfg.Project.Name + `"
`)
	if cfg.Project.Module != "" {
		b.WriteString(`  module: "` + cfg.Project.Module + `"
`)
	}

	b.WriteString(`
# Event store backend: memory, postgres, sqlite or badger
storage:
  driver: "` + cfg.Storage.Driver + `"
`)
	switch cfg.Storage.Driver {
	case DriverPostgres:
		url := cfg.Storage.URL
		if url == "" {
			url = "${DATABASE_URL}"
		}
		b.WriteString(`  # Connection URL, environment variables are expanded
  url: "` + url + `"
  schema: "` + cfg.Storage.Schema + `"
`)
		if cfg.Storage.SQLDriver != "" {
			b.WriteString(`  sql_driver: "` + cfg.Storage.SQLDriver + `"
`)
		}
	case DriverSQLite, DriverBadger:
		b.WriteString(`  path: "` + cfg.Storage.Path + `"
`)
	}

	fmt.Fprintf(&b, `
engine:
  dispatch_timeout: %s
  command_timeout: %s
  snapshot_every: %d

log:
  level: "%s"
  format: "%s"
`, cfg.Engine.DispatchTimeout, cfg.Engine.CommandTimeout, cfg.Engine.SnapshotEvery, cfg.Log.Level, cfg.Log.Format)

	return b.String()
}
