package cmd

import (
	"fmt"
	"os"

	"spinfm/config"
	"spinfm/core/auth"

	"github.com/spf13/cobra"
)

// inviteCmd mints a join-invite token for the configured server. The
// token is handed to clients out-of-band; they exchange it for an
// identity with the join RPC.
var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Mint a join-invite token",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		token, err := auth.Sign([]byte(cfg.JWTSecret), auth.Claims{
			WsURL:      cfg.WsURL,
			ServerName: cfg.ServerName,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to sign invite:", err)
			os.Exit(1)
		}
		fmt.Println(token)
	},
}

func init() {
	rootCmd.AddCommand(inviteCmd)
}
