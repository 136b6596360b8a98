package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "1", cfg.Version)
	assert.Equal(t, "my-stoat-app", cfg.Project.Name)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, "stoat", cfg.Storage.Schema)
	assert.Equal(t, 30*time.Second, cfg.Engine.DispatchTimeout)
	assert.Empty(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   []string
	}{
		{
			name:   "postgres with URL",
			modify: func(c *Config) { c.Storage.Driver = DriverPostgres; c.Storage.URL = "postgres://localhost/db" },
		},
		{
			name:   "sqlite with path",
			modify: func(c *Config) { c.Storage.Driver = DriverSQLite; c.Storage.Path = "events.db" },
		},
		{
			name:   "missing project name",
			modify: func(c *Config) { c.Project.Name = "" },
			want:   []string{"project.name is required"},
		},
		{
			name:   "missing driver",
			modify: func(c *Config) { c.Storage.Driver = "" },
			want:   []string{"storage.driver is required"},
		},
		{
			name:   "invalid driver",
			modify: func(c *Config) { c.Storage.Driver = "mysql" },
			want:   []string{"storage.driver must be one of: memory, postgres, sqlite, badger"},
		},
		{
			name:   "postgres without URL",
			modify: func(c *Config) { c.Storage.Driver = DriverPostgres },
			want:   []string{"storage.url is required when Driver is postgres"},
		},
		{
			name:   "badger without path",
			modify: func(c *Config) { c.Storage.Driver = DriverBadger },
			want:   []string{"storage.path is required when Driver is badger"},
		},
		{
			name:   "sqlite without path",
			modify: func(c *Config) { c.Storage.Driver = DriverSQLite },
			want:   []string{"storage.path is required when Driver is sqlite"},
		},
		{
			name: "bad sql driver",
			modify: func(c *Config) {
				c.Storage.Driver = DriverPostgres
				c.Storage.URL = "postgres://localhost/db"
				c.Storage.SQLDriver = "mysql"
			},
			want: []string{"storage.sql_driver must be one of: pgx, postgres"},
		},
		{
			name:   "negative timeout",
			modify: func(c *Config) { c.Engine.DispatchTimeout = -time.Second },
			want:   []string{"engine.dispatch_timeout must not be negative"},
		},
		{
			name:   "bad log level",
			modify: func(c *Config) { c.Log.Level = "trace"; c.Log.Format = "xml" },
			want: []string{
				"log.level must be one of: debug, info, warn, error",
				"log.format must be one of: text, json",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.Equal(t, tt.want, cfg.Validate())
		})
	}
}

func TestConfig_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Project.Name = "ledger"
	cfg.Storage.Driver = DriverSQLite
	cfg.Storage.Path = "ledger.db"
	cfg.Engine.SnapshotEvery = 50
	require.NoError(t, cfg.Save(dir))
	assert.True(t, Exists(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadFile_DefaultsAndErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("partial file keeps defaults", func(t *testing.T) {
		path := filepath.Join(dir, "partial.yaml")
		require.NoError(t, os.WriteFile(path, []byte("project:\n  name: partial\nengine:\n  dispatch_timeout: 5s\n"), 0644))

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "partial", cfg.Project.Name)
		assert.Equal(t, DriverMemory, cfg.Storage.Driver)
		assert.Equal(t, 5*time.Second, cfg.Engine.DispatchTimeout)
		assert.Equal(t, "info", cfg.Log.Level)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(dir, "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("project: [unclosed"), 0644))
		_, err := LoadFile(path)
		assert.ErrorContains(t, err, "config: parse")
	})
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, DefaultConfig().Save(dir))

	t.Setenv("STOAT_STORAGE_DRIVER", "postgres")
	t.Setenv("STOAT_STORAGE_URL", "${TEST_PG_URL}")
	t.Setenv("TEST_PG_URL", "postgres://env/db")
	t.Setenv("STOAT_LOG_LEVEL", "debug")
	t.Setenv("STOAT_SNAPSHOT_EVERY", "10")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://env/db", cfg.StorageURL())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, uint64(10), cfg.Engine.SnapshotEvery)
	assert.Equal(t, "my-stoat-app", cfg.Project.Name)

	t.Run("bad value", func(t *testing.T) {
		t.Setenv("STOAT_DISPATCH_TIMEOUT", "soon")
		_, err := Load(dir)
		assert.ErrorContains(t, err, "config: parse env")
	})
}

func TestFindConfig(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	cfg := DefaultConfig()
	cfg.Project.Name = "found"
	require.NoError(t, cfg.Save(root))

	dir, found, err := FindConfig(nested)
	require.NoError(t, err)
	assert.Equal(t, root, dir)
	assert.Equal(t, "found", found.Project.Name)

	_, _, err = FindConfig(t.TempDir())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLogConfig(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LogConfig{Level: "debug"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LogConfig{Level: "warn"}.SlogLevel())
	assert.Equal(t, slog.LevelError, LogConfig{Level: "error"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogConfig{Level: "other"}.SlogLevel())

	var buf bytes.Buffer
	LogConfig{Level: "warn", Format: "json"}.Logger(&buf).Info("hidden")
	assert.Empty(t, buf.String())

	LogConfig{Level: "info", Format: "json"}.Logger(&buf).Info("shown", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	LogConfig{Level: "info", Format: "text"}.Logger(&buf).Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}

func TestGenerateYAML(t *testing.T) {
	for _, driver := range Drivers {
		t.Run(driver, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Project.Name = "gen"
			cfg.Project.Module = "example.com/gen"
			cfg.Storage.Driver = driver
			cfg.Storage.Path = "data"
			cfg.Storage.SQLDriver = "pgx"

			out := GenerateYAML(cfg)
			assert.Contains(t, out, `driver: "`+driver+`"`)

			parsed := DefaultConfig()
			require.NoError(t, yaml.Unmarshal([]byte(out), parsed))
			assert.Equal(t, "gen", parsed.Project.Name)
			assert.Equal(t, "example.com/gen", parsed.Project.Module)
			assert.Equal(t, driver, parsed.Storage.Driver)
			assert.Equal(t, 30*time.Second, parsed.Engine.DispatchTimeout)
			if driver == DriverPostgres {
				assert.Equal(t, "${DATABASE_URL}", parsed.Storage.URL)
				assert.Equal(t, "pgx", parsed.Storage.SQLDriver)
			}
		})
	}
}
