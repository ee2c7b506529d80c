package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile     string
	controlAddress string
)

var rootCmd = &cobra.Command{
	Use: "dunagent",
	Long: `A Bluetooth Dial-up Networking relay agent.
It accepts DUN peers over RFCOMM and relays them to the modem daemon.`,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	// 若执行子命令或者帮助或者出现错误，则不会执行这里
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func Execute() {
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&controlAddress, "control", "a", "127.0.0.1:6211", "Control RPC address of the running agent")
}
