package cmd

import (
	"dunrelay/rpc"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	logPath  string
)

var config = &cobra.Command{
	Use:   "config",
	Short: "Show the agent configuration or change its log settings",
	Run: func(cmd *cobra.Command, args []string) {
		params := make(map[string]string)
		if cmd.Flags().Changed("log_level") {
			params["log_level"] = logLevel
		}
		if cmd.Flags().Changed("log_path") {
			params["log_path"] = logPath
		}
		if len(params) == 0 {
			callAndPrint("config", nil, rpc.CONFIG)
			return
		}
		callAndPrint("config", params, rpc.CONFIG)
	},
}

func init() {
	rootCmd.AddCommand(config)

	config.Flags().StringVarP(&logLevel, "log_level", "l", "info", "Set the log level")
	config.Flags().StringVarP(&logPath, "log_path", "d", "", "Set the log directory, empty for stdout")
}
