// Package main provides the CLI entry point for Opal, a single-user LLM
// coding-agent runtime that speaks newline-delimited JSON-RPC 2.0 over
// stdio to one connected client (an editor extension, a TUI, or a thin
// wrapper script).
//
// # Basic Usage
//
// Start the agent server on stdio:
//
//	opal serve
//
// Check that a configured provider key and data directory are usable:
//
//	opal doctor
//
// # Environment Variables
//
//   - OPAL_DATA_DIR: overrides the default ~/.opal data directory
//   - ANTHROPIC_API_KEY: Anthropic API key used by the default provider
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opalhq/opal/internal/config"
)

// main is the entry point for the Opal CLI. It builds the command tree and
// hands control to Cobra, which parses args and dispatches to the matching
// RunE.
func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() so tests can exercise it without os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "opal",
		Short: "Opal - a single-user LLM coding-agent runtime",
		Long: `Opal drives one LLM coding session at a time over a newline-delimited
JSON-RPC 2.0 stdio transport: prompting, streaming, tool dispatch,
sub-agent delegation, and session persistence, with no shared
multi-tenant state.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", config.Version, config.Commit, config.Date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildVersionCmd(),
		buildDoctorCmd(),
	)

	return rootCmd
}
