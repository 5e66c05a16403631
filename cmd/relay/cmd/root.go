package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "live location share relay",
	Long: `Relay lets a user broadcast their live position to anyone holding a
share link. Viewers receive position updates over a websocket, and the
sharer can end the session at will. See the serve command for running the
relay, and token, share, and watch for client-side operations.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
