package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-stoat/adapters/postgres"
	"github.com/AshkanYarmoradi/go-stoat/adapters/sqlite"
	"github.com/AshkanYarmoradi/go-stoat/cli/config"
	"github.com/AshkanYarmoradi/go-stoat/cli/styles"
)

// NewSchemaCommand creates the schema command
func NewSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print or export the event store DDL",
		Long: `Print or export the DDL that 'stoat migrate' applies.

Only the relational drivers (postgres, sqlite) have a schema.

Examples:
  stoat schema print                      # Print the DDL for the configured driver
  stoat schema print --driver sqlite      # Print the SQLite DDL
  stoat schema generate -o schema.sql     # Write the DDL to a file`,
	}

	cmd.AddCommand(newSchemaPrintCommand())
	cmd.AddCommand(newSchemaGenerateCommand())

	return cmd
}

func newSchemaPrintCommand() *cobra.Command {
	var driver string

	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the event store DDL",
		RunE: func(cmd *cobra.Command, args []string) error {
			ddl, err := schemaFor(cmd, driver)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), ddl)
			return nil
		},
	}

	cmd.Flags().StringVarP(&driver, "driver", "d", "", "Driver to print the DDL for (default: from stoat.yaml)")
	return cmd
}

func newSchemaGenerateCommand() *cobra.Command {
	var (
		driver string
		output string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write the event store DDL to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ddl, err := schemaFor(cmd, driver)
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, []byte(ddl), 0644); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), styles.FormatSuccess(fmt.Sprintf("Schema written to %s", output)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&driver, "driver", "d", "", "Driver to generate the DDL for (default: from stoat.yaml)")
	cmd.Flags().StringVarP(&output, "output", "o", "schema.sql", "Output file")
	return cmd
}

// schemaFor renders the DDL for driver, or for the configured driver when
// driver is empty.
func schemaFor(cmd *cobra.Command, driver string) (string, error) {
	cfg, err := loadConfigOrDefault(cmd)
	if err != nil {
		return "", err
	}
	if driver == "" {
		driver = cfg.Storage.Driver
	}

	switch driver {
	case config.DriverPostgres:
		schema := cfg.Storage.Schema
		if schema == "" {
			schema = postgres.DefaultSchema
		}
		return postgres.SchemaDDL(schema), nil
	case config.DriverSQLite:
		return sqlite.Schema, nil
	case config.DriverMemory, config.DriverBadger:
		return "", fmt.Errorf("the %s driver has no SQL schema", driver)
	default:
		return "", fmt.Errorf("unsupported storage driver %q", driver)
	}
}
