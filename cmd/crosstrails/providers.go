package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/crosstrails/crosstrails/pkg/router"
)

func newProvidersCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect and test LLM providers",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List supported providers and whether credentials are available",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-14s %-10s %-10s %-26s %s\n",
				"Kind", "Name", "Available", "Streaming", "Default Model", "Credentials")
			fmt.Fprintln(out, strings.Repeat("-", 100))
			for _, d := range a.providers.Catalog() {
				avail := "no"
				switch {
				case !d.Implemented:
					avail = "n/a"
				case a.providers.Available(d.Kind):
					avail = "yes"
				}
				fmt.Fprintf(out, "%-10s %-14s %-10s %-10t %-26s %s\n",
					d.Kind, d.Name, avail, d.SupportsStreaming, d.DefaultModel, strings.Join(d.Credentials, ", "))
			}

			if def, err := a.providers.DefaultConfig(); err == nil {
				fmt.Fprintf(out, "\nDefault: %s (%s)\n", def.Provider, def.Model)
			} else {
				fmt.Fprintf(out, "\nDefault: none (%v)\n", err)
			}
			return nil
		},
	}

	var (
		provider string
		model    string
		timeout  time.Duration
	)
	testCmd := &cobra.Command{
		Use:   "test",
		Short: "Send a test completion through a provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			svc := a.analysis
			if provider != "" || model != "" {
				candidates, err := a.router.Resolve(router.Request{Provider: provider, Model: model})
				if err != nil {
					return err
				}
				cfg, err := router.FirstUsable(a.providers, candidates)
				if err != nil {
					return err
				}
				svc = svc.WithConfig(cfg)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			st := svc.TestConnection(ctx)
			out := cmd.OutOrStdout()
			if !st.Success {
				fmt.Fprintf(out, "FAIL  %s (%s): %s\n", st.Provider, st.Model, st.Error)
				return fmt.Errorf("connection test failed")
			}
			fmt.Fprintf(out, "OK    %s (%s)\n", st.Provider, st.Model)
			return nil
		},
	}
	testCmd.Flags().StringVarP(&provider, "provider", "p", "", "provider name or kind (default: auto-detect)")
	testCmd.Flags().StringVarP(&model, "model", "m", "", "model or configured alias")
	testCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall test timeout")

	cmd.AddCommand(listCmd, testCmd)
	return cmd
}
