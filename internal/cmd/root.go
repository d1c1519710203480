// Package cmd wires the ralph CLI's cobra commands.
package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is the current ralph CLI version.
const Version = "0.1.0"

// NewRootCommand builds the ralph root command and attaches its subcommands.
func NewRootCommand() *cobra.Command {
	_ = godotenv.Load() // provider API keys (CLAUDE_API_KEY, etc); missing .env is not an error

	root := &cobra.Command{
		Use:   "ralph",
		Short: "Autonomous parallel coding-agent factory",
		Long: `Ralph drives a backlog of tasks to completion by dispatching them to
external coding-agent CLIs (Claude, Gemini, Cursor, Codex) in parallel
worktrees, routing by complexity, merging finished work onto trunk, and
periodically re-planning the backlog.`,
		Version:      Version,
		SilenceUsage: true,
	}

	root.AddCommand(NewFactoryCommand())
	return root
}
