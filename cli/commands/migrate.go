package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
	"github.com/AshkanYarmoradi/go-stoat/cli/config"
	"github.com/AshkanYarmoradi/go-stoat/cli/styles"
	"github.com/AshkanYarmoradi/go-stoat/cli/ui"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the event store schema",
		Long: `Create the tables, indexes and key layout the configured store needs.

Migrating is idempotent: running it against an initialized store changes
nothing.

Examples:
  stoat migrate              # Initialize the configured store
  stoat migrate --dry-run    # Print the DDL instead of applying it`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if dryRun {
				ddl, err := schemaFor(cmd, "")
				if err != nil {
					return err
				}
				fmt.Fprint(out, ddl)
				return nil
			}

			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if s.cfg.Storage.Driver == config.DriverMemory {
				fmt.Fprintln(out, styles.FormatInfo("The memory driver keeps nothing between runs, there is nothing to migrate"))
				return nil
			}

			ctx := cmd.Context()
			err = ui.RunSpinner(out, interactive(out), "Connecting to "+s.cfg.Storage.Driver+"...", func() (string, error) {
				if err := s.open(ctx); err != nil {
					return "Connection failed", err
				}
				return "Connected to " + s.cfg.Storage.Driver, nil
			})
			if err != nil {
				return err
			}

			if sp, ok := unwrap(s.store).(adapters.SchemaProvider); ok {
				s.log.Debug("applying schema", "ddl", sp.Schema())
			}
			if err := s.store.Initialize(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintln(out, styles.FormatSuccess("Event store schema is up to date"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the DDL without applying it")

	return cmd
}

// unwrap returns the adapter beneath any middleware.
func unwrap(a adapters.EventStoreAdapter) adapters.EventStoreAdapter {
	for {
		u, ok := a.(interface {
			Unwrap() adapters.EventStoreAdapter
		})
		if !ok {
			return a
		}
		a = u.Unwrap()
	}
}
