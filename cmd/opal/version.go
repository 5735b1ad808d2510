package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opalhq/opal/internal/config"
)

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the Opal version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "opal %s (commit: %s, built: %s)\n", config.Version, config.Commit, config.Date)
			return nil
		},
	}
}
