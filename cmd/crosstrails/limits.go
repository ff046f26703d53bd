package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crosstrails/crosstrails/pkg/ratelimit"
)

func newLimitsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "limits",
		Short: "Show the effective rate limit policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			policies := a.limiter.Policies()
			classes := make([]ratelimit.Class, 0, len(policies))
			for c := range policies {
				classes = append(classes, c)
			}
			slices.Sort(classes)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %10s %12s\n", "Class", "Window", "Max Requests")
			fmt.Fprintln(out, strings.Repeat("-", 34))
			for _, c := range classes {
				p := policies[c]
				fmt.Fprintf(out, "%-10s %10s %12d\n", c, p.Window, p.MaxRequests)
			}
			fmt.Fprintf(out, "\nIdle windows swept every %s\n", a.cfg.RateLimit.SweepInterval)
			return nil
		},
	}
}
