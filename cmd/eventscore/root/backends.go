package root

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/drblury/eventscore/stream"
	_ "github.com/drblury/eventscore/stream/streams"
)

func newBackendsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "Lists the registered stream backends and their capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDURABLE LOG\tDURABLE CURSOR\tBROKER OFFSETS\tBLOCKING POP\tORDERED")
			for _, name := range stream.DefaultRegistry.Names() {
				c := stream.DefaultRegistry.GetCapabilities(name)
				fmt.Fprintf(w, "%s\t%t\t%t\t%t\t%t\t%t\n",
					name, c.DurableLog, c.DurableCursor, c.BrokerManagedOffsets, c.NativeBlockingPop, c.SupportsOrdering)
			}
			return w.Flush()
		},
	}
}
