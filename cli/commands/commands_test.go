package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
	"github.com/AshkanYarmoradi/go-stoat/adapters/adaptertest"
	"github.com/AshkanYarmoradi/go-stoat/adapters/sqlite"
	"github.com/AshkanYarmoradi/go-stoat/cli/config"
	"github.com/AshkanYarmoradi/go-stoat/cli/styles"
)

// ============================================================================
// Test Helpers
// ============================================================================

// run executes the root command with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Cleanup(func() { styles.Apply(styles.DefaultPalette) })

	var stdout, stderr bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--no-color"}, args...))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// writeConfig saves cfg as stoat.yaml in a fresh directory and returns the
// file path.
func writeConfig(t *testing.T, modify func(*config.Config)) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Project.Name = "ledger"
	if modify != nil {
		modify(cfg)
	}
	require.NoError(t, cfg.Save(dir))
	return filepath.Join(dir, config.ConfigFileName)
}

func sqliteConfig(t *testing.T) string {
	return writeConfig(t, func(c *config.Config) {
		c.Storage.Driver = config.DriverSQLite
		c.Storage.Path = "events.db"
	})
}

// seedSQLite appends n MoneyDeposited records to Account-acc-1 in the store
// next to configPath.
func seedSQLite(t *testing.T, configPath string, n int) {
	t.Helper()
	ctx := context.Background()
	a, err := sqlite.NewAdapter(filepath.Join(filepath.Dir(configPath), "events.db"))
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Initialize(ctx))
	require.NoError(t, a.Append(ctx, "Account-acc-1", 0, adaptertest.Records(0, n, "MoneyDeposited")))
}

func subcommandNames(cmd *cobra.Command) []string {
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	return names
}

// ============================================================================
// Root
// ============================================================================

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "stoat", root.Use)
	assert.ElementsMatch(t,
		[]string{"init", "schema", "migrate", "stream", "errors", "diagnose", "version"},
		subcommandNames(root))

	for _, flag := range []string{"no-color", "config", "trace"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
	assert.Equal(t, "c", root.PersistentFlags().Lookup("config").Shorthand)
}

func TestRootCommand_NoColor(t *testing.T) {
	_, _, err := run(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, styles.Palette{}, styles.Current)
}

func TestCommandAliases(t *testing.T) {
	root := NewRootCommand()
	for alias, name := range map[string]string{"doctor": "diagnose", "diag": "diagnose", "events": "stream"} {
		cmd, _, err := root.Find([]string{alias})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

// ============================================================================
// init
// ============================================================================

func TestInitCommand_NonInteractive(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ledger")

	out, _, err := run(t, "init", dir, "--non-interactive", "--driver", "sqlite", "--module", "example.com/ledger")
	require.NoError(t, err)
	assert.Contains(t, out, "Created stoat.yaml")
	assert.Contains(t, out, "stoat migrate")

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "ledger", cfg.Project.Name)
	assert.Equal(t, "example.com/ledger", cfg.Project.Module)
	assert.Equal(t, config.DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, defaultSQLitePath, cfg.Storage.Path)
	assert.Empty(t, cfg.Validate())
}

func TestInitCommand_Drivers(t *testing.T) {
	tests := []struct {
		driver string
		check  func(t *testing.T, cfg *config.Config)
	}{
		{config.DriverMemory, func(t *testing.T, cfg *config.Config) { assert.Empty(t, cfg.Storage.Path) }},
		{config.DriverBadger, func(t *testing.T, cfg *config.Config) { assert.Equal(t, defaultBadgerPath, cfg.Storage.Path) }},
		{config.DriverPostgres, func(t *testing.T, cfg *config.Config) { assert.Equal(t, "${DATABASE_URL}", cfg.Storage.URL) }},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			dir := t.TempDir()
			out, _, err := run(t, "init", dir, "--non-interactive", "-d", tt.driver, "-n", "shop")
			require.NoError(t, err)

			cfg, err := config.Load(dir)
			require.NoError(t, err)
			assert.Equal(t, "shop", cfg.Project.Name)
			assert.Equal(t, tt.driver, cfg.Storage.Driver)
			tt.check(t, cfg)

			if tt.driver == config.DriverPostgres {
				assert.Contains(t, out, "DATABASE_URL")
			}
		})
	}
}

func TestInitCommand_AlreadyExists(t *testing.T) {
	dir := filepath.Dir(writeConfig(t, nil))

	out, _, err := run(t, "init", dir, "--non-interactive")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
}

func TestInitCommand_InvalidDriver(t *testing.T) {
	_, _, err := run(t, "init", t.TempDir(), "--non-interactive", "--driver", "mysql")
	assert.ErrorContains(t, err, "storage.driver must be one of")
}

func TestInitCommand_DetectsModule(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module github.com/acme/bank\n\ngo 1.24\n"), 0644))

	_, _, err := run(t, "init", dir, "--non-interactive")
	require.NoError(t, err)

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "github.com/acme/bank", cfg.Project.Module)
}

func TestModuleName(t *testing.T) {
	assert.Equal(t, "example.com/a", moduleName(strings.NewReader("// comment\nmodule example.com/a\n")))
	assert.Equal(t, "example.com/q", moduleName(strings.NewReader(`module "example.com/q"`)))
	assert.Empty(t, moduleName(strings.NewReader("go 1.24\n")))
	assert.Empty(t, detectModule(t.TempDir()))
}

// ============================================================================
// schema and migrate
// ============================================================================

func TestSchemaCommand_Print(t *testing.T) {
	cfgPath := writeConfig(t, func(c *config.Config) { c.Storage.Schema = "ledger" })

	out, _, err := run(t, "-c", cfgPath, "schema", "print", "--driver", "postgres")
	require.NoError(t, err)
	assert.Contains(t, out, "CREATE SCHEMA IF NOT EXISTS ledger")
	assert.Contains(t, out, "ledger.events")

	out, _, err = run(t, "-c", cfgPath, "schema", "print", "-d", "sqlite")
	require.NoError(t, err)
	assert.Equal(t, sqlite.Schema, out)
}

func TestSchemaCommand_NoSchema(t *testing.T) {
	cfgPath := writeConfig(t, nil)

	_, _, err := run(t, "-c", cfgPath, "schema", "print")
	assert.ErrorContains(t, err, "the memory driver has no SQL schema")

	_, _, err = run(t, "-c", cfgPath, "schema", "print", "-d", "badger")
	assert.ErrorContains(t, err, "badger driver has no SQL schema")

	_, _, err = run(t, "-c", cfgPath, "schema", "print", "-d", "oracle")
	assert.ErrorContains(t, err, "unsupported storage driver")
}

func TestSchemaCommand_Generate(t *testing.T) {
	cfgPath := sqliteConfig(t)
	output := filepath.Join(t.TempDir(), "schema.sql")

	out, _, err := run(t, "-c", cfgPath, "schema", "generate", "-o", output)
	require.NoError(t, err)
	assert.Contains(t, out, "Schema written to")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, sqlite.Schema, string(data))
}

func TestMigrateCommand_SQLite(t *testing.T) {
	cfgPath := sqliteConfig(t)

	out, _, err := run(t, "-c", cfgPath, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Connected to sqlite")
	assert.Contains(t, out, "schema is up to date")
	assert.FileExists(t, filepath.Join(filepath.Dir(cfgPath), "events.db"))

	// Migrating twice is harmless.
	_, _, err = run(t, "-c", cfgPath, "migrate")
	require.NoError(t, err)
}

func TestMigrateCommand_DryRun(t *testing.T) {
	cfgPath := sqliteConfig(t)

	out, _, err := run(t, "-c", cfgPath, "migrate", "--dry-run")
	require.NoError(t, err)
	assert.Equal(t, sqlite.Schema, out)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(cfgPath), "events.db"))
}

func TestMigrateCommand_Memory(t *testing.T) {
	out, _, err := run(t, "-c", writeConfig(t, nil), "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to migrate")
}

func TestMigrateCommand_Errors(t *testing.T) {
	t.Run("no config", func(t *testing.T) {
		t.Chdir(t.TempDir())
		_, _, err := run(t, "migrate")
		assert.ErrorContains(t, err, "run 'stoat init' first")
	})

	t.Run("invalid config", func(t *testing.T) {
		cfgPath := writeConfig(t, func(c *config.Config) { c.Storage.Driver = config.DriverBadger })
		_, _, err := run(t, "-c", cfgPath, "migrate")
		assert.ErrorContains(t, err, "storage.path is required when Driver is badger")
	})

	t.Run("adapter factory fails", func(t *testing.T) {
		orig := OpenAdapter
		t.Cleanup(func() { OpenAdapter = orig })
		OpenAdapter = func(*config.Config) (adapters.EventStoreAdapter, error) {
			return nil, adapters.ErrStorageUnavailable
		}

		_, _, err := run(t, "-c", sqliteConfig(t), "migrate")
		assert.ErrorIs(t, err, adapters.ErrStorageUnavailable)
	})
}

func TestMigrateCommand_FindsConfigUpwards(t *testing.T) {
	cfgPath := sqliteConfig(t)
	nested := filepath.Join(filepath.Dir(cfgPath), "cmd", "api")
	require.NoError(t, os.MkdirAll(nested, 0755))
	t.Chdir(nested)

	_, _, err := run(t, "migrate")
	require.NoError(t, err)
	// The relative path resolves against the directory holding stoat.yaml.
	assert.FileExists(t, filepath.Join(filepath.Dir(cfgPath), "events.db"))
	assert.NoFileExists(t, filepath.Join(nested, "events.db"))
}

func TestOpenAdapter(t *testing.T) {
	t.Run("unsupported driver", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Storage.Driver = "oracle"
		_, err := openAdapter(cfg)
		assert.ErrorContains(t, err, `unsupported storage driver "oracle"`)
	})

	t.Run("postgres without url", func(t *testing.T) {
		t.Setenv("STOAT_EMPTY_URL", "")
		cfg := config.DefaultConfig()
		cfg.Storage.Driver = config.DriverPostgres
		cfg.Storage.URL = "${STOAT_EMPTY_URL}"
		_, err := openAdapter(cfg)
		assert.ErrorContains(t, err, "storage.url is empty")
	})

	t.Run("badger", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Storage.Driver = config.DriverBadger
		cfg.Storage.Path = t.TempDir()
		a, err := openAdapter(cfg)
		require.NoError(t, err)
		require.NoError(t, a.Close())
	})
}

// ============================================================================
// stream
// ============================================================================

func TestStreamCommand(t *testing.T) {
	cfgPath := sqliteConfig(t)
	seedSQLite(t, cfgPath, 3)

	out, _, err := run(t, "-c", cfgPath, "stream", "Account", "acc-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Account-acc-1")
	assert.Contains(t, out, "Aggregate type:")
	assert.Contains(t, out, "MoneyDeposited")
	assert.Contains(t, out, "2024-01-02 03:04:07")
	assert.Contains(t, out, "corr-1")
	assert.Contains(t, out, "Showing 0-2 of 3")
	assert.NotContains(t, out, `{"n":0}`)
}

func TestStreamCommand_Paging(t *testing.T) {
	cfgPath := sqliteConfig(t)
	seedSQLite(t, cfgPath, 5)

	out, _, err := run(t, "-c", cfgPath, "stream", "Account", "acc-1", "--offset", "2", "--limit", "2", "--data")
	require.NoError(t, err)
	assert.Contains(t, out, "Showing 2-3 of 5")
	assert.Contains(t, out, `{"n":2}`)
	assert.NotContains(t, out, `{"n":4}`)

	out, _, err = run(t, "-c", cfgPath, "stream", "Account", "acc-1", "--offset", "9")
	require.NoError(t, err)
	assert.Contains(t, out, "No envelopes at offset 9")
}

func TestStreamCommand_NotFound(t *testing.T) {
	cfgPath := sqliteConfig(t)
	seedSQLite(t, cfgPath, 1)

	_, _, err := run(t, "-c", cfgPath, "stream", "Account", "missing")
	assert.EqualError(t, err, "stream Account-missing not found")

	_, _, err = run(t, "-c", cfgPath, "stream", "Account")
	assert.Error(t, err)
}

func TestStreamCommand_Trace(t *testing.T) {
	cfgPath := sqliteConfig(t)
	seedSQLite(t, cfgPath, 1)

	_, stderr, err := run(t, "-c", cfgPath, "--trace", "stream", "Account", "acc-1")
	require.NoError(t, err)
	assert.Contains(t, stderr, "eventstore.stream_info")
	assert.Contains(t, stderr, "eventstore.read_page")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, `{"a":1}`, preview([]byte(`{"a":1}`)))
	assert.Equal(t, "<3 bytes>", preview([]byte{0xff, 0xfe, 0x00}))

	long := preview([]byte(strings.Repeat("x", 100)))
	assert.Equal(t, dataPreviewWidth, len([]rune(long)))
	assert.True(t, strings.HasSuffix(long, "…"))
}

// ============================================================================
// errors
// ============================================================================

func TestErrorsCommand(t *testing.T) {
	out, _, err := run(t, "errors")
	require.NoError(t, err)
	assert.Contains(t, out, "INFRASTRUCTURE_CONCURRENCY_ERROR")
	assert.Contains(t, out, "GENERIC_NOT_FOUND")

	out, _, err = run(t, "errors", "--domain", "generic")
	require.NoError(t, err)
	assert.Contains(t, out, "GENERIC_GONE")
	assert.NotContains(t, out, "INFRASTRUCTURE_")

	_, _, err = run(t, "errors", "--domain", "nope")
	assert.ErrorContains(t, err, `no error codes registered for domain "nope"`)
}

func TestErrorsCommand_Lookup(t *testing.T) {
	out, _, err := run(t, "errors", "1002")
	require.NoError(t, err)
	assert.Contains(t, out, "GENERIC_NOT_FOUND")
	assert.Contains(t, out, "404")

	_, _, err = run(t, "errors", "9999")
	assert.ErrorContains(t, err, "no error code 9999")

	_, _, err = run(t, "errors", "abc")
	assert.ErrorContains(t, err, "must be a number")
}

// ============================================================================
// diagnose and version
// ============================================================================

func TestDiagnoseCommand_SQLite(t *testing.T) {
	cfgPath := sqliteConfig(t)

	out, _, err := run(t, "-c", cfgPath, "diagnose")
	require.NoError(t, err)
	assert.Contains(t, out, "Project: ledger, Driver: sqlite")
	assert.Contains(t, out, "Connected to sqlite")
	assert.Contains(t, out, "Run 'stoat migrate'")

	_, _, err = run(t, "-c", cfgPath, "migrate")
	require.NoError(t, err)

	out, _, err = run(t, "-c", cfgPath, "diagnose")
	require.NoError(t, err)
	assert.Contains(t, out, "Event store tables are readable")
	assert.Contains(t, out, "All checks passed")
}

func TestDiagnoseCommand_Memory(t *testing.T) {
	out, _, err := run(t, "-c", writeConfig(t, nil), "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "no connection needed")
	assert.Contains(t, out, "needs no schema")
	assert.Contains(t, out, "All checks passed")
}

func TestDiagnoseCommand_NoConfig(t *testing.T) {
	t.Chdir(t.TempDir())

	out, _, err := run(t, "diagnose")
	require.NoError(t, err)
	assert.Contains(t, out, "Skipped (no configuration)")
	assert.Contains(t, out, "Run 'stoat init'")
	assert.Contains(t, out, "Some checks failed")
}

func TestDiagnoseCommand_InvalidConfig(t *testing.T) {
	cfgPath := writeConfig(t, func(c *config.Config) { c.Log.Level = "loud" })

	out, _, err := run(t, "-c", cfgPath, "diagnose")
	require.NoError(t, err)
	assert.Contains(t, out, "1 validation errors")
	assert.Contains(t, out, "log.level must be one of")
	assert.Contains(t, out, "invalid configuration")
}

func TestCheckStatus_String(t *testing.T) {
	assert.Equal(t, "OK", StatusOK.String())
	assert.Equal(t, "WARNING", StatusWarning.String())
	assert.Equal(t, "FAILED", StatusError.String())
}

func TestCheckErrorCatalog(t *testing.T) {
	r := checkErrorCatalog(nil)
	assert.Equal(t, StatusOK, r.Status)
	assert.Contains(t, r.Message, "codes in")
}

func TestVersionCommand(t *testing.T) {
	cmd := NewVersionCommand("1.2.3", "abc123", "2026-01-01")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "1.2.3")
	assert.Contains(t, out.String(), "abc123")
	assert.Contains(t, out.String(), "2026-01-01")

	out.Reset()
	cmd.SetArgs([]string{"--short"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "1.2.3\n", out.String())
}
