package cmd

import (
	"fmt"
	"log"
	"os"

	"spinfm/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "spinfm",
	Short: "spinfm is a realtime DJ-room coordination server.",
	Run: func(cmd *cobra.Command, args []string) {
		log.Println("Starting spinfm server...")
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
