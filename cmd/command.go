package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/spf13/cobra"
	"recording-orchestrator/config"
	"recording-orchestrator/constant"
	"recording-orchestrator/dto"
	"recording-orchestrator/pkg/rabbitmq"
	server2 "recording-orchestrator/server"
	"time"
)

func command(cfg *config.Config) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "command <type> <json payload>",
		Short: "send a command on the command bus and print the reply",
		Example: `  recording-orchestrator command start_egress_recording '{"roomId":"lecture-1"}'
  recording-orchestrator command ping_appliance '{"deviceId":"pearl-1"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("payload is not valid json")
			}

			ctx, cancel := context.WithTimeout(server2.SetupLogger(cfg), timeout)
			defer cancel()

			conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
			if err != nil {
				return err
			}
			defer conn.Close()

			reply, err := rabbitmq.Call(ctx, conn, dto.Command{
				Type:    constant.CommandType(args[0]),
				Payload: json.RawMessage(args[1]),
			})
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(reply, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !reply.Ok {
				return fmt.Errorf("command failed: %s", reply.Error)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "how long to wait for the reply")
	return cmd
}
