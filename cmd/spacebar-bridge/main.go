// Copyright 2024-2026 Aiku AI

// Command spacebar-bridge relays messages between paired Discord and
// Spacebar channels.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

type rootFlags struct {
	configPath string
	noUpdate   bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:           "spacebar-bridge",
		Short:         "Relay messages between Discord and Spacebar channels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.yaml", "path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&flags.noUpdate, "no-update", "n", false, "don't write the upgraded config back to disk")

	rootCmd.AddCommand(
		newRunCmd(flags),
		newSweepCmd(flags),
		newVersionCmd(),
		newExampleConfigCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
