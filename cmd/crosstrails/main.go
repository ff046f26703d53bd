package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var opts rootOptions

	root := &cobra.Command{
		Use:           "crosstrails",
		Short:         "CrossTrails: LLM analysis of biblical cross-references",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "crosstrails.yaml", "path to config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")
	root.PersistentFlags().BoolVar(&opts.console, "log-console", false, "human-readable log output")

	root.AddCommand(
		newServeCmd(&opts),
		newMCPCmd(&opts),
		newProvidersCmd(&opts),
		newLimitsCmd(&opts),
		newPromptCmd(&opts),
		newCrossRefsCmd(&opts),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
