package cmd

import (
	"dunrelay/rpc"
	"github.com/spf13/cobra"
)

var always bool

var allow = &cobra.Command{
	Use:   "allow <device>",
	Short: "Answer a pending access request with allow",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		callAndPrint("allow", rpc.DeviceParams{Device: args[0], Always: always}, rpc.ALLOW)
	},
}

var reject = &cobra.Command{
	Use:   "reject <device>",
	Short: "Answer a pending access request with reject",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		callAndPrint("reject", rpc.DeviceParams{Device: args[0]}, rpc.REJECT)
	},
}

var accessCmd = &cobra.Command{
	Use:   "access <device> [allowed|rejected|unknown]",
	Short: "Show or change the stored access decision of a device",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		params := rpc.AccessParams{Device: args[0]}
		if len(args) == 2 {
			params.Decision = args[1]
		}
		callAndPrint("access", params, rpc.ACCESS)
	},
}

func init() {
	rootCmd.AddCommand(allow, reject, accessCmd)

	allow.Flags().BoolVar(&always, "always", false, "Remember the decision for this device")
}
