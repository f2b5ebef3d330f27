// Package main implements the facturad CLI: mailbox invoice ingestion
// for personal tax filing.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the optional YAML config file location
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "facturad",
	Short: "Ingest electronic invoices from users' mailboxes",
	Long: `facturad discovers electronic invoices in registered users' mailboxes,
parses and classifies them, and stores them as structured records ready
for a personal tax filing.

Configuration is read from the file given with --config, overridden by
FACTURAD_* environment variables.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(userCmd)
}
