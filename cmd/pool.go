package cmd

import (
	"fmt"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"recording-orchestrator/config"
	server2 "recording-orchestrator/server"
	"strconv"
)

func pool(config *config.Config) *cobra.Command {
	poolCmd := &cobra.Command{
		Use:   "pool",
		Short: "manage the recorder pool",
	}
	poolCmd.AddCommand(&cobra.Command{
		Use:   "resize <n>",
		Short: "grow or shrink the recorder pool to exactly n recorders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.Atoi(args[0])
			if err != nil || target < 0 {
				return fmt.Errorf("invalid pool size %q", args[0])
			}

			ctx := server2.SetupLogger(config)
			repo, err := server2.OpenRepository(ctx, config)
			if err != nil {
				return err
			}
			pm, redisClient := server2.NewPool(config, repo)
			defer redisClient.Close()
			defer pm.Stop()

			if err := pm.Resize(ctx, target); err != nil {
				return err
			}
			zerolog.Ctx(ctx).Info().Int("size", target).Msg("pool resized")
			return nil
		},
	})
	return poolCmd
}
