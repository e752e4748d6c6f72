package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flagctl",
	Short: "Demo host for the feature-flag and remote-config engine",
	Long: `flagctl drives an engine instance from the command line: it loads
configuration, persists its own device identity and event log between
invocations, and exposes the host API verbs as subcommands.

Each invocation is a short-lived process that opens the configured
store, performs one operation, and closes it again; "watch" is the
exception and stays resident to stream feature changes.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
}

var (
	configPath string
	storePath  string
	outputJSON bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "sqlite path to use as the backing store (overrides storage.backend/sqlite_path)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print machine-readable JSON output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(logEventCmd)
	rootCmd.AddCommand(setPropertyCmd)
	rootCmd.AddCommand(getFeatureCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(watchCmd)
}
