package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crosstrails/crosstrails/pkg/mcp"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start CrossTrails as an MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			srv := mcp.New(mcp.Deps{
				Analysis:  a.analysis,
				Prompts:   a.prompts,
				Verses:    a.verses,
				CrossRefs: a.crossRefs,
				Cache:     a.cache,
				Limiter:   a.limiter,
			}, version, mcp.WithLogger(a.logger))

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go a.limiter.Run(ctx, a.cfg.RateLimit.SweepInterval)
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
