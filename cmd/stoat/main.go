// stoat is the command-line interface for the go-stoat event store.
//
// Usage:
//
//	stoat <command> [flags]
//
// Commands:
//
//	init        Create a stoat.yaml configuration
//	schema      Print or export the event store DDL
//	migrate     Create the event store schema
//	stream      Show the envelopes of an aggregate's stream
//	errors      List the error catalog
//	diagnose    Run diagnostic checks on your setup
//	version     Show version information
//
// Examples:
//
//	# Initialize a project backed by SQLite
//	stoat init --driver sqlite
//
//	# Create the tables
//	stoat migrate
//
//	# Inspect an account's history with store spans printed to stderr
//	stoat --trace stream Account 7b1c0e9a
package main

import (
	"os"

	"github.com/AshkanYarmoradi/go-stoat/cli/commands"
)

// Build information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
