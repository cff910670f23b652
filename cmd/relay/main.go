// Command relay runs the NubuStream chat relay.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd runs the relay when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Real-time chat relay for live streams",
	Long: `relay accepts WebSocket clients, groups them into rooms, moderates
their messages and fans approved messages out to everyone else in the room.

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
