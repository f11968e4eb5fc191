// Package main provides the CLI entry point for the Easel collaborative
// drawing server.
//
// # Basic Usage
//
// Start the server:
//
//	easel serve --config easel.yaml
//
// Mint a development token:
//
//	easel token <user-id>
//
// Manage users and invites:
//
//	easel user create artist@example.com
//	easel invite new
//
// # Environment Variables
//
//   - EASEL_JWT_SECRET: shared secret for token validation
//   - ANTHROPIC_API_KEY: Anthropic API key for the artist agent
//   - OPENAI_API_KEY: OpenAI API key for reference image generation
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "easel",
		Short: "Easel - per-user collaborative AI drawing server",
		Long: `Easel runs a persistent drawing agent for every user: the agent paints
on a shared canvas, humans draw alongside it and steer it with nudges,
and finished pieces are archived to a per-user gallery.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildTokenCmd(),
		buildUserCmd(),
		buildInviteCmd(),
	)
	return rootCmd
}
