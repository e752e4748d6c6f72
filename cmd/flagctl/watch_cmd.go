package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var watchFeature string

func init() {
	watchCmd.Flags().StringVar(&watchFeature, "feature", "", "print changes for this feature (without it, no feature changes are printed)")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay resident, initialize the engine, and print feature changes as they happen",
	Long: `watch is the one flagctl subcommand that stays resident: it initializes
the engine (cached load, one fetch, auto-refresh) and, for the feature
named by --feature, prints every change until interrupted with Ctrl-C.
Without --feature no feature changes are printed; rule-set updates only
appear in the log.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	h, err := newHost(ctx)
	if err != nil {
		return err
	}
	defer h.Close()

	if !h.hasFetcher {
		return fmt.Errorf("flagctl: watch needs network.pointer_url set in config")
	}
	if err := h.engine.Initialize(ctx); err != nil {
		return fmt.Errorf("flagctl: initialize: %w", err)
	}

	print := func(value *string) {
		if value == nil {
			fmt.Println("(removed)")
			return
		}
		fmt.Printf("%q\n", *value)
	}

	if watchFeature != "" {
		token := h.engine.AddListener(watchFeature, func(value *string) {
			fmt.Printf("%s = ", watchFeature)
			print(value)
		})
		defer h.engine.RemoveListener(token)
	} else {
		fmt.Println("no --feature given: listeners in this engine are per-feature, so no feature changes will be printed; rule-set updates only appear in the log")
	}

	fmt.Println("watching, press Ctrl-C to stop")
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	return nil
}
