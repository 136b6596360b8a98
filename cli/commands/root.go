// Package commands provides the CLI command implementations for stoat.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-stoat/cli/styles"
	"github.com/AshkanYarmoradi/go-stoat/cli/ui"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// NewRootCommand creates the root command for the stoat CLI
func NewRootCommand() *cobra.Command {
	var noColor bool

	rootCmd := &cobra.Command{
		Use:   "stoat",
		Short: "Event sourcing and CQRS runtime for Go",
		Long: ui.SimpleBanner() + `

Stoat runs commands against event-sourced aggregates, stores their events
in append-only streams and fans them out to dispatchers.
This tool manages the event store that backs an application.

` + styles.Title.Render("Quick Start:") + `

  ` + styles.Code.Render("stoat init") + `           Create stoat.yaml
  ` + styles.Code.Render("stoat migrate") + `        Create the event store schema
  ` + styles.Code.Render("stoat stream") + `         Inspect a stream
  ` + styles.Code.Render("stoat diagnose") + `       Check your setup`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				styles.DisableColors()
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to stoat.yaml (default: search upwards from the working directory)")
	rootCmd.PersistentFlags().Bool("trace", false, "Print OpenTelemetry spans for store calls to stderr")

	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewSchemaCommand())
	rootCmd.AddCommand(NewMigrateCommand())
	rootCmd.AddCommand(NewStreamCommand())
	rootCmd.AddCommand(NewErrorsCommand())
	rootCmd.AddCommand(NewDiagnoseCommand())
	rootCmd.AddCommand(NewVersionCommand(Version, Commit, BuildDate))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.FormatError(err.Error()))
		return err
	}

	return nil
}
