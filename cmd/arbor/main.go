// Package main is the CLI entry point for the Arbor collaboration server.
//
// Arbor is the real-time collaboration backend for multi-user canvases of
// branching conversation trees: presence, cursors, typing indicators,
// single-writer node locks, durable editing sessions, and the activity feed.
//
// Start the server:
//
//	arbor serve --config arbor.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/arborhq/arbor/internal/config"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "arbor",
		Short: "Arbor - real-time canvas collaboration server",
		Long: `Arbor serves the real-time collaboration substrate for canvas workspaces:
presence, cursors, typing indicators, node locks, editing sessions, and the
activity feed, over websocket and REST.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", config.Version, config.GitCommit, config.BuildDate),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildVersionCmd())
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("arbor %s\ncommit: %s\nbuilt:  %s\n",
				config.Version, config.GitCommit, config.BuildDate)
		},
	}
}
