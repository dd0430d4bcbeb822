// Package cli implements projectctl, the operator CLI for the project
// lifecycle API.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// Build information (injected at compile time via ldflags)
var Version = "dev"

var (
	apiAddr    string
	authToken  string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "projectctl",
	Short:         "Manage cocalc projects",
	Long:          `projectctl controls project lifecycle through the hub HTTP API: start, stop, inspect, and connect.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", defaultAPIAddr(), "hub API base URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("COCALC_AUTH_TOKEN"), "API bearer token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit raw JSON")
}

func defaultAPIAddr() string {
	if addr := os.Getenv("COCALC_API_URL"); addr != "" {
		return addr
	}
	return "http://localhost:8090"
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
