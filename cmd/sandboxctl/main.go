// Command sandboxctl is an administrative CLI for the sandbox
// orchestrator's HTTP surface (spec §6), grounded in cuemby-warren's
// cmd/warren (single rootCmd + subcommand-per-file, --manager-style
// server address flag) and akshayaggarwal99-boxed's cobra root.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sandboxctl",
	Short: "Administer a sandboxd server over its HTTP API",
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "sandboxd server address")
	rootCmd.PersistentFlags().String("owner", "anonymous", "owner identity sent as X-Owner-Id")

	rootCmd.AddCommand(listCmd, createCmd, deleteCmd, warmPoolCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
