package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initLocalFile string

func init() {
	initCmd.Flags().StringVar(&initLocalFile, "local", "", "parse a rules document from this file instead of fetching over the network")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the engine: load cached rules, fetch once, persist device identity",
	Long: `init loads any cached rule set from the store, ensures a device id and
first-open flag exist, and performs one rule fetch. With --local it only
installs a rules document read from a file: no cached load, no device
identity, no network.

Examples:
  flagctl --config flagctl.yaml init
  flagctl --config flagctl.yaml init --local rules.json`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	h, err := newHost(ctx)
	if err != nil {
		return err
	}
	defer h.Close()

	if initLocalFile != "" {
		raw, err := os.ReadFile(initLocalFile)
		if err != nil {
			return fmt.Errorf("flagctl: read %q: %w", initLocalFile, err)
		}
		if err := h.engine.InitializeLocal(raw); err != nil {
			return fmt.Errorf("flagctl: initialize local: %w", err)
		}
		fmt.Println("initialized from local document")
		return nil
	}

	if !h.hasFetcher {
		return fmt.Errorf("flagctl: init needs either --local <file> or network.pointer_url set in config")
	}
	if err := h.engine.Initialize(ctx); err != nil {
		return fmt.Errorf("flagctl: initialize: %w", err)
	}
	fmt.Println("initialized")
	return nil
}
