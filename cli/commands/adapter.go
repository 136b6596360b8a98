package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
	"github.com/AshkanYarmoradi/go-stoat/adapters/badger"
	"github.com/AshkanYarmoradi/go-stoat/adapters/memory"
	"github.com/AshkanYarmoradi/go-stoat/adapters/postgres"
	"github.com/AshkanYarmoradi/go-stoat/adapters/sqlite"
	"github.com/AshkanYarmoradi/go-stoat/cli/config"
	"github.com/AshkanYarmoradi/go-stoat/middleware/tracing"
)

// pingTimeout bounds the connectivity check made when a store is opened.
const pingTimeout = 5 * time.Second

// AdapterFactory opens the event store described by a storage config.
type AdapterFactory func(cfg *config.Config) (adapters.EventStoreAdapter, error)

// OpenAdapter is the factory the commands use. Tests may replace it.
var OpenAdapter AdapterFactory = openAdapter

func openAdapter(cfg *config.Config) (adapters.EventStoreAdapter, error) {
	s := cfg.Storage
	switch s.Driver {
	case config.DriverMemory:
		return memory.NewAdapter(), nil

	case config.DriverPostgres:
		url := cfg.StorageURL()
		if url == "" {
			return nil, errors.New("storage.url is empty, set it in stoat.yaml or export the variable it references")
		}
		var opts []postgres.Option
		if s.Schema != "" {
			opts = append(opts, postgres.WithSchema(s.Schema))
		}
		if s.SQLDriver != "" {
			opts = append(opts, postgres.WithDriver(s.SQLDriver))
		}
		return postgres.NewAdapter(url, opts...)

	case config.DriverSQLite:
		return sqlite.NewAdapter(s.Path)

	case config.DriverBadger:
		return badger.Open(badger.Config{Path: s.Path, SyncWrites: true})

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", s.Driver)
	}
}

// session is the state shared by commands that talk to a store.
type session struct {
	cmd    *cobra.Command
	dir    string
	cfg    *config.Config
	log    *slog.Logger
	store  adapters.EventStoreAdapter
	closer []func()
}

// loadConfig finds the configuration for cmd: the --config flag when set,
// otherwise the nearest stoat.yaml above the working directory. The
// directory holding the file is returned with it.
func loadConfig(cmd *cobra.Command) (string, *config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return "", nil, err
		}
		return filepath.Dir(path), cfg, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", nil, err
	}
	dir, cfg, err := config.FindConfig(cwd)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, fmt.Errorf("no %s found, run 'stoat init' first", config.ConfigFileName)
		}
		return "", nil, err
	}
	return dir, cfg, nil
}

// loadConfigOrDefault is loadConfig falling back to the defaults with
// environment overrides applied.
func loadConfigOrDefault(cmd *cobra.Command) (*config.Config, error) {
	if _, cfg, err := loadConfig(cmd); err == nil {
		return cfg, nil
	}
	cfg := config.DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newSession(cmd *cobra.Command) (*session, error) {
	dir, cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", problems[0])
	}
	if p := cfg.Storage.Path; p != "" && !filepath.IsAbs(p) {
		cfg.Storage.Path = filepath.Join(dir, p)
	}
	return &session{
		cmd: cmd,
		dir: dir,
		cfg: cfg,
		log: cfg.Log.Logger(cmd.ErrOrStderr()),
	}, nil
}

// open opens the configured store, pings it and wraps it in tracing when
// --trace is set.
func (s *session) open(ctx context.Context) error {
	s.log.Debug("opening event store", "driver", s.cfg.Storage.Driver)

	store, err := OpenAdapter(s.cfg)
	if err != nil {
		return err
	}
	s.closer = append(s.closer, func() { _ = store.Close() })

	if hc, ok := store.(adapters.HealthChecker); ok {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := hc.Ping(pingCtx); err != nil {
			return fmt.Errorf("cannot reach %s store: %w", s.cfg.Storage.Driver, err)
		}
	}

	if trace, _ := s.cmd.Flags().GetBool("trace"); trace {
		tp, err := tracing.NewStdoutProvider(s.cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		s.closer = append(s.closer, func() { _ = tp.Shutdown(context.Background()) })
		tracer := tracing.NewTracer(
			tracing.WithTracerProvider(tp),
			tracing.WithServiceName(s.cfg.Project.Name),
		)
		store = tracing.NewEventStoreMiddleware(store, tracer)
	}

	s.store = store
	return nil
}

// Close releases everything open opened, most recent first.
func (s *session) Close() {
	for i := len(s.closer) - 1; i >= 0; i-- {
		s.closer[i]()
	}
	s.closer = nil
}

// interactive reports whether w is a terminal, which enables spinners and
// prompts.
func interactive(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
