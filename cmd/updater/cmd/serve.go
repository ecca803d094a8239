package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	updater "github.com/snider/plugin-updater"
	"github.com/snider/plugin-updater/internal/config"
	"github.com/snider/plugin-updater/internal/server"
	"github.com/snider/plugin-updater/store"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP server",
		Long: `Starts the HTTP server answering update checks, plugin detail requests and
credential changes for every configured repository. Tokens added, changed or
removed in the config file are applied without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := opts.cfg
			if addr != "" {
				cfg.Server.Addr = addr
			}
			mode, err := updater.ParseStartupCheckMode(cfg.StartupCheck)
			if err != nil {
				return err
			}

			rt, err := newApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			opts.source.Watch(func(next *config.Config, err error) {
				if err != nil {
					rt.logger.Error("config reload failed", "error", err)
					return
				}
				rt.applyCredentials(context.Background(), next)
			})
			go rt.purgeExpired(ctx, store.DefaultCleanupInterval)

			go func() {
				if _, err := updater.NewUpdateService(rt.registry, mode, rt.logger).Start(ctx); err != nil {
					rt.logger.Warn("startup check failed", "error", err)
				}
			}()

			gin.SetMode(gin.ReleaseMode)
			handler := server.New(server.Dependencies{
				Registry:    rt.registry,
				Gatherer:    rt.metrics,
				CORSOrigins: cfg.Server.CORSOrigins,
				AdminToken:  cfg.Server.AdminToken,
				Logger:      rt.logger,
			})
			return server.Run(ctx, cfg.Server.Addr, handler, rt.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}
