// Package main provides the entry point for the scrapling CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for scrapling.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrapling",
		Short: "Resilient rendered-page fetcher",
		Long: `scrapling fetches pages through a headless browser and retries failures
over a plan of direct connections, public proxies and a private proxy.

Settings come from defaults, a .scrapling file, SCRAPLING_* environment
variables and command line flags, each overriding the previous one.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .scrapling in current or home directory)")

	cmd.AddCommand(NewFetchCmd())
	cmd.AddCommand(NewProfileCmd())
	cmd.AddCommand(NewProxiesCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
