package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sunoman/server"
)

var rootCmd = &cobra.Command{
	Use:   "sunoman",
	Short: "Sunoman is a bulk music generation manager.",
	Run: func(cmd *cobra.Command, args []string) {
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
