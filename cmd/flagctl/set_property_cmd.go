package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	propertyScope  string
	propertyRemove bool
)

func init() {
	setPropertyCmd.Flags().StringVar(&propertyScope, "scope", "user", "property scope: user or device")
	setPropertyCmd.Flags().BoolVar(&propertyRemove, "remove", false, "remove the property instead of setting it")
}

var setPropertyCmd = &cobra.Command{
	Use:   "set-property <key> [value]",
	Short: "Set or remove a user or device property and re-evaluate features",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSetProperty,
}

func runSetProperty(cmd *cobra.Command, args []string) error {
	key := args[0]

	h, err := newHost(cmd.Context())
	if err != nil {
		return err
	}
	defer h.Close()
	if err := h.resume(cmd.Context()); err != nil {
		return err
	}

	if propertyRemove {
		switch propertyScope {
		case "user":
			h.engine.RemoveUserProperty(key)
		case "device":
			h.engine.RemoveDeviceProperty(key)
		default:
			return fmt.Errorf("flagctl: invalid --scope %q, expected user or device", propertyScope)
		}
		fmt.Printf("removed %s property %q\n", propertyScope, key)
		return nil
	}

	if len(args) != 2 {
		return fmt.Errorf("flagctl: set-property requires a value unless --remove is given")
	}
	value := args[1]

	switch propertyScope {
	case "user":
		h.engine.SetUserProperty(key, value)
	case "device":
		h.engine.SetDeviceProperty(key, value)
	default:
		return fmt.Errorf("flagctl: invalid --scope %q, expected user or device", propertyScope)
	}
	fmt.Printf("set %s property %q = %q\n", propertyScope, key, value)
	return nil
}
