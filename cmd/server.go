package cmd

import (
	"github.com/spf13/cobra"
	"recording-orchestrator/config"
	server2 "recording-orchestrator/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "run the control plane: consumers, reconciliation loops and http server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server2.RunHttp(config)
		},
	}
}
