package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/nexus-agent/internal/observability"
	"github.com/xkilldash9x/nexus-agent/internal/service"
)

func newServeCommand() *cobra.Command {
	var addr string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and websocket event feed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if addr != "" {
				cfg.Service.Addr = addr
			}

			a, err := buildApp(ctx, cfg, logger, false)
			if err != nil {
				return err
			}

			server := service.NewServer(cfg.Service, a.controller, a.session, a.store, a.bus, logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(server.Start)
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("Shutting down.")
				// Shutdown must not inherit the already-cancelled context.
				shutdownCtx := context.WithoutCancel(gctx)
				err := server.Shutdown(shutdownCtx)
				a.close(shutdownCtx)
				return err
			})

			if err := g.Wait(); err != nil && ctx.Err() == nil {
				return err
			}
			logger.Info("Service stopped.", zap.String("addr", cfg.Service.Addr))
			return nil
		},
	}

	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides service.addr)")
	return serveCmd
}
