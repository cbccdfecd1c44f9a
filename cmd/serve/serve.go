package serve

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nvr-ai/parking-occupancy/config"
	"github.com/nvr-ai/parking-occupancy/metrics"
	"github.com/nvr-ai/parking-occupancy/server"
	"github.com/nvr-ai/parking-occupancy/service"
	"github.com/spf13/cobra"
)

// Command creates the command that serves the HTTP API.
func Command(ctx *config.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the occupancy HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m, err := metrics.New(nil)
			if err != nil {
				return err
			}
			svc, release, err := service.Open(sigCtx, *ctx.Settings, ctx.Logger, m)
			if err != nil {
				return err
			}
			defer release()

			var opts []server.Option
			if st := svc.Store(); st != nil {
				opts = append(opts, server.WithHistory(st))
			}
			srv := server.New(svc, ctx.Settings.Run, m, ctx.Logger, opts...)
			return srv.ListenAndServe(sigCtx, ctx.Settings.Server.Addr)
		},
	}

	cmd.Flags().String("addr", ctx.Viper.GetString("server.addr"), "Listen address")
	cmd.Flags().String("output", ctx.Viper.GetString("output_root"), "Results root served under /api/results")
	if err := config.MapFlags(cmd.Flags(), map[string]string{
		"addr":   "server.addr",
		"output": "output_root",
	}); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}
