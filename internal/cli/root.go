// Package cli implements the SCEMS command-line interface using Cobra.
// Two subcommands run the supervisor and worker daemons; the rest are thin
// HTTP clients against a running deployment.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scems-network/scems/internal/daemon"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "scems",
	Short: "SCEMS: smart campus energy management agents",
	Long: `SCEMS runs a supervisor that routes natural-language energy questions
to registered worker agents, and the worker agent that answers them with
building analysis, forecasting, solar and cost estimates backed by long-term
memory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $SCEMS_HOME/config.toml)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads --config when given, else the default location.
func loadConfig() (daemon.Config, error) {
	if configPath != "" {
		return daemon.LoadConfigFile(configPath)
	}
	return daemon.LoadConfig()
}
