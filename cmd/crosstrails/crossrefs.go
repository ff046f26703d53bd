package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crosstrails/crosstrails/pkg/xref"
)

func newCrossRefsCmd(opts *rootOptions) *cobra.Command {
	var (
		limit       int
		minStrength float64
	)

	cmd := &cobra.Command{
		Use:   "crossrefs <verse>...",
		Short: "List curated cross-references of one or more verses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.crossRefs.Lookup(cmd.Context(), xref.LookupRequest{
				Verses:      args,
				Limit:       limit,
				MinStrength: minStrength,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-14s %-14s %8s %-12s %s\n", "Anchor", "Reference", "Strength", "Type", "Categories")
			fmt.Fprintln(out, strings.Repeat("-", 72))
			for _, cr := range res.CrossReferences {
				fmt.Fprintf(out, "%-14s %-14s %8.2f %-12s %s\n",
					cr.AnchorRef, cr.Reference, cr.Connection.Strength, cr.Connection.Type, strings.Join(cr.Connection.Categories, ", "))
			}
			fmt.Fprintf(out, "\n%d of %d shown\n", res.Returned, res.TotalFound)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", xref.DefaultLimit, "maximum cross-references to show")
	cmd.Flags().Float64Var(&minStrength, "min-strength", xref.DefaultMinStrength, "minimum connection strength")
	return cmd
}
