package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var eventParams []string

func init() {
	logEventCmd.Flags().StringArrayVarP(&eventParams, "param", "p", nil, "event parameter as key=value (repeatable)")
}

var logEventCmd = &cobra.Command{
	Use:   "log-event <name>",
	Short: "Append an event to the event log and re-evaluate features",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogEvent,
}

func runLogEvent(cmd *cobra.Command, args []string) error {
	params, err := parseParams(eventParams)
	if err != nil {
		return err
	}

	h, err := newHost(cmd.Context())
	if err != nil {
		return err
	}
	defer h.Close()
	if err := h.resume(cmd.Context()); err != nil {
		return err
	}

	h.engine.LogEvent(args[0], params)
	fmt.Printf("logged event %q\n", args[0])
	return nil
}

func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("flagctl: invalid --param %q, expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}
