package cmd

import (
	"dunrelay/svc"
	"github.com/spf13/cobra"
)

var run = &cobra.Command{
	Use:   "run",
	Short: "Run the agent in the foreground or under the service manager",
	Run: func(cmd *cobra.Command, args []string) {
		svc.RunSvc(configFile)
	},
}

var install = &cobra.Command{
	Use:   "install",
	Short: "Install and start the agent as a system service",
	Run: func(cmd *cobra.Command, args []string) {
		svc.InstallSvc(configFile)
	},
}

var uninstall = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the system service",
	Run: func(cmd *cobra.Command, args []string) {
		svc.UninstallSvc()
	},
}

func init() {
	rootCmd.AddCommand(run, install, uninstall)

	run.Flags().StringVarP(&configFile, "config", "c", "", "JSON config file")
	install.Flags().StringVarP(&configFile, "config", "c", "", "JSON config file")
}
