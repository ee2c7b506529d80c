package cmd

import (
	"dunrelay/rpc"
	"github.com/spf13/cobra"
)

var status = &cobra.Command{
	Use:   "status",
	Short: "Get relay and session information",
	Run: func(cmd *cobra.Command, args []string) {
		callAndPrint("status", nil, rpc.STATUS)
	},
}

var state = &cobra.Command{
	Use:   "state <device>",
	Short: "Get the connection state of a device",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		callAndPrint("state", rpc.DeviceParams{Device: args[0]}, rpc.STATE)
	},
}

var states []string

var devices = &cobra.Command{
	Use:   "devices",
	Short: "List devices, connected ones by default",
	Run: func(cmd *cobra.Command, args []string) {
		var params interface{}
		if len(states) > 0 {
			params = rpc.StatesParams{States: states}
		}
		callAndPrint("devices", params, rpc.DEVICES)
	},
}

func init() {
	rootCmd.AddCommand(status, state, devices)

	devices.Flags().StringSliceVarP(&states, "state", "s", nil, "Connection states to match (connected, disconnected)")
}
