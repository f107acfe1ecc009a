// Package main wires the rudp server and client engines behind a cobra CLI,
// following the same subcommand layout the reference FDO server uses for its
// own role-per-subcommand binaries.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	Use:   "rudp",
	Short: "Reliable UDP transport: a stop-and-wait, optionally encrypted protocol over a lossy network",
}

func main() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(benchCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
