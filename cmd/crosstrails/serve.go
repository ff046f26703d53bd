package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crosstrails/crosstrails/pkg/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()
			if listen != "" {
				a.cfg.Listen = listen
			}

			srv := server.New(a.cfg, server.Deps{
				Analysis:  a.analysis,
				Prompts:   a.prompts,
				Providers: a.providers,
				Cache:     a.cache,
				Limiter:   a.limiter,
				CrossRefs: a.crossRefs,
			}, server.WithLogger(a.logger))

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go a.limiter.Run(ctx, a.cfg.RateLimit.SweepInterval)

			if def, err := a.providers.DefaultConfig(); err == nil {
				a.logger.Info("default provider",
					zap.String("provider", string(def.Provider)),
					zap.String("model", def.Model))
			} else {
				a.logger.Warn("no provider credentials found", zap.Error(err))
			}
			a.logger.Info("starting crosstrails", zap.String("config", opts.configPath))
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "override the configured listen address")
	return cmd
}
