package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"recording-orchestrator/config"
	"recording-orchestrator/pkg/rabbitmq"
	server2 "recording-orchestrator/server"
)

func discover(cfg *config.Config) *cobra.Command {
	var skipAppliances bool
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "run one discovery pass and enqueue upload jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := server2.SetupLogger(cfg)

			conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
			if err != nil {
				return err
			}
			defer conn.Close()
			publisher, err := rabbitmq.NewPublisher(conn, cfg.Queue)
			if err != nil {
				return err
			}
			defer publisher.Close()

			repo, err := server2.OpenRepository(ctx, cfg)
			if err != nil {
				return err
			}
			svc := server2.NewServices(cfg, repo, publisher)
			defer svc.Close()

			if !skipAppliances {
				if err := svc.Discovery.SyncAppliances(ctx); err != nil {
					zerolog.Ctx(ctx).Warn().Err(err).Msg("appliance sync incomplete")
				}
			}
			enqueued, err := svc.Discovery.Discover(ctx)
			if err != nil {
				return err
			}
			zerolog.Ctx(ctx).Info().Int("enqueued", enqueued).Msg("discovery finished")
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipAppliances, "skip-appliances", false, "do not download appliance archives first")
	return cmd
}
