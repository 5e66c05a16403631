package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden at build time via ldflags
var version = "dev"

func versionString() string {
	return version
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the relay version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(versionString())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
