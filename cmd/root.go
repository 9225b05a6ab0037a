package cmd

import (
	"github.com/spf13/cobra"
	"recording-orchestrator/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "recording-orchestrator",
		Short:         "recording orchestration control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(server(config))
	rootCmd.AddCommand(pool(config))
	rootCmd.AddCommand(discover(config))
	rootCmd.AddCommand(command(config))
	return rootCmd
}
