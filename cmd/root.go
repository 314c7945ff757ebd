package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "relay-agent",
	Short: "Relay CI build agent",
	Long: `relay-agent connects a machine to a Relay CI server as a build agent.

It registers itself with the server, keeps a persistent connection open,
executes the build command trees it is assigned and streams console output
and job status back.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
