package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "sandbox-orch",
		Short: "Sandbox Orchestrator - AI build run coordinator",
		Long: `Sandbox Orchestrator executes AI-generated build plans against remote
sandboxes. It runs plan tickets through the coding agent, streams progress
to clients, keeps a warm pool of sandboxes ready, and verifies each build
with an automatic test-and-fix loop.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
