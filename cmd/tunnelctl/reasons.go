package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/go-i2p/packettunnel/lib/tunnelstate"
)

func newReasonsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reasons",
		Short: "List every blocked state reason and its restart policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REASON\tRESTART")
			for _, r := range tunnelstate.AllBlockedStateReasons() {
				policy := "surface"
				if r.ShouldRestartAutomatically() {
					policy = "automatic"
				}
				fmt.Fprintf(tw, "%s\t%s\n", r, policy)
			}
			return tw.Flush()
		},
	}
}
