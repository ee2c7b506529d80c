package cmd

import (
	"dunrelay/rpc"
	"github.com/spf13/cobra"
)

var disconnect = &cobra.Command{
	Use:   "disconnect <device>",
	Short: "Ask the modem daemon to end the call with a device",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		callAndPrint("disconnect", rpc.DeviceParams{Device: args[0]}, rpc.DISCONNECT)
	},
}

func init() {
	rootCmd.AddCommand(disconnect)
}
