package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opalhq/opal/internal/config"
)

func buildDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that Opal is configured correctly",
		Long: `Run a handful of preflight checks: that the config file parses, the
data directory is writable, and an Anthropic API key is available.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	failed := false

	report := func(ok bool, format string, args ...any) {
		mark := "ok  "
		if !ok {
			mark = "FAIL"
			failed = true
		}
		fmt.Fprintf(out, "[%s] %s\n", mark, fmt.Sprintf(format, args...))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		report(false, "load config: %v", err)
		return fmt.Errorf("opal doctor: configuration is invalid")
	}
	report(true, "config loaded (model: %s/%s)", cfg.Model.Provider, cfg.Model.ID)

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir, err = config.DataDir()
		if err != nil {
			report(false, "resolve data dir: %v", err)
		}
	}
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			report(false, "data dir %s is not writable: %v", dataDir, err)
		} else {
			report(true, "data dir %s is writable", dataDir)
		}
	}

	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		report(false, "ANTHROPIC_API_KEY is not set")
	} else {
		report(true, "ANTHROPIC_API_KEY is set")
	}

	if failed {
		return fmt.Errorf("opal doctor: one or more checks failed")
	}
	return nil
}
