// Package main implements udtctl, the command line client of udtd.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags
var (
	version   = "dev"
	gitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "udtctl",
	Short: "Client for the user type schema service",
	Long: fmt.Sprintf(`udtctl runs CQL statements against udtd and manages schema snapshots.

Version: %s@%s %s/%s

Commands:
  exec      Run CQL statements
  types     List the user types of a keyspace
  snapshot  Export, list, prune and restore schema snapshots

Use "udtctl [command] --help" for more information about a command.`,
		version, gitCommit, runtime.GOOS, runtime.GOARCH),
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(newExecCmd())
	rootCmd.AddCommand(newTypesCmd())
	rootCmd.AddCommand(newSnapshotCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
