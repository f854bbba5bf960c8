package cmd

import (
	"spinfm/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the spinfm server",
	Long:  `Start the spinfm coordination server: the websocket RPC endpoint and the track payload endpoint.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
