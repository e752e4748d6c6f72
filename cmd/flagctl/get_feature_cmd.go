package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var getFeatureCmd = &cobra.Command{
	Use:   "get-feature <name>",
	Short: "Print a feature's current resolved value",
	Long: `get-feature resumes the persisted event log and rule set, then prints
the named feature's value and whether it is enabled (spec's truthy
set: true, on, enabled, 1, case-insensitive). A feature with no
matching rule is absent, not an error.`,
	Args: cobra.ExactArgs(1),
	RunE: runGetFeature,
}

type featureResult struct {
	Feature string `json:"feature"`
	Present bool   `json:"present"`
	Value   string `json:"value,omitempty"`
	Enabled bool   `json:"enabled"`
}

func runGetFeature(cmd *cobra.Command, args []string) error {
	name := args[0]

	h, err := newHost(cmd.Context())
	if err != nil {
		return err
	}
	defer h.Close()
	if err := h.resume(cmd.Context()); err != nil {
		return err
	}

	value, ok := h.engine.GetFeatureValue(name)
	result := featureResult{Feature: name, Present: ok, Value: value, Enabled: h.engine.IsFeatureEnabled(name)}

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if !ok {
		fmt.Printf("%s: absent\n", name)
		return nil
	}
	fmt.Printf("%s: %q (enabled=%t)\n", name, value, result.Enabled)
	return nil
}
