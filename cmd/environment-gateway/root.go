package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "environment-gateway",
		Short: "MCP gateway for development environment tooling",
		Long: `environment-gateway exposes a catalog of development-workflow tools
(git, Azure DevOps pipelines, Docker infrastructure, Hyper-V VMs, context
documents) to MCP clients over a session-oriented streaming HTTP transport.`,
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newStatusCommand())

	return rootCmd
}
