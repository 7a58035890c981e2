package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kothd",
	Short: "kothd records and live-tails HTTP traffic to the KOTH game backend",
	Long: `kothd sits in front of the game backend, records every request/response
exchange into a bounded in-memory log and streams new entries to any number
of connected viewers.

Configuration comes from a YAML file (--config), KOTHD_* environment
variables and flags, in increasing order of precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true, // We handle errors in Execute()
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	initServeCmd()
	initLogsCmd()
	rootCmd.AddCommand(versionCmd)
}
