package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crosstrails/crosstrails/pkg/models"
	"github.com/crosstrails/crosstrails/pkg/prompt"
)

func newPromptCmd(opts *rootOptions) *cobra.Command {
	var (
		anchor      string
		style       string
		observation string
		rng         int
		categories  []string
		strength    float64
	)

	cmd := &cobra.Command{
		Use:   "prompt <reference>",
		Short: "Print the analysis prompt for a cross-reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			tmpl, err := models.ParseAnalysisStyle(style)
			if err != nil {
				return err
			}
			res, err := a.prompts.BuildPrompt(cmd.Context(), prompt.Request{
				CrossReference: models.CrossReference{
					Reference:  args[0],
					AnchorRef:  anchor,
					Connection: models.ConnectionData{Categories: categories, Strength: strength},
				},
				UserObservation: observation,
				ContextRange:    rng,
				Template:        tmpl,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Prompt)
			return nil
		},
	}

	cmd.Flags().StringVarP(&anchor, "anchor", "a", "", "anchor passage id, e.g. John.3.14")
	cmd.Flags().StringVarP(&style, "style", "s", "default", "prompt template: default, study, devotional or academic")
	cmd.Flags().StringVar(&observation, "observation", "", "reader observation to address")
	cmd.Flags().IntVarP(&rng, "context", "n", 0, "context verses on each side (default from the prompt builder)")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "connection category (repeatable)")
	cmd.Flags().Float64Var(&strength, "strength", 0, "connection strength between 0 and 1")
	_ = cmd.MarkFlagRequired("anchor")
	return cmd
}
