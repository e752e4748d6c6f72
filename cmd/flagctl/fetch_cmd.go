package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Issue a manual rule-set refresh, subject to the manual-refresh rate limit",
	Long: `fetch resumes persisted state and issues a single conditional-GET
pointer check, installing a new rules document only if the version
changed. It is rate-limited the same way a host's manual refresh_rules
call is (network.manual_refresh_per_minute).`,
	RunE: runFetch,
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	h, err := newHost(ctx)
	if err != nil {
		return err
	}
	defer h.Close()

	if !h.hasFetcher {
		return fmt.Errorf("flagctl: fetch needs network.pointer_url set in config")
	}
	if err := h.resume(ctx); err != nil {
		return err
	}

	if err := h.engine.RefreshRules(ctx); err != nil {
		return fmt.Errorf("flagctl: refresh: %w", err)
	}
	fmt.Println("fetched")
	return nil
}
