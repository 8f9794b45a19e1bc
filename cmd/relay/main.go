// Package main is the relay CLI: an agent-orchestration server that drives
// LLM-backed agents over a websocket protocol, with credit gating and
// resumable session state.
//
// Start the server:
//
//	relay serve --config relay.yaml
//
// Configuration values may reference environment variables with $NAME
// expansion, e.g. ANTHROPIC_API_KEY and BRAVE_API_KEY.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "relay",
		Short:        "Relay - agent orchestration server",
		Long:         "Relay drives LLM-backed agents through multi-step tool-calling runs,\nstreaming output over a websocket protocol with credit gating.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildVersionCmd(),
		buildTokenCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("relay %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
