package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/richmaes/guitaracc/internal/ports"
	"github.com/spf13/cobra"
)

func (a *app) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List serial ports that look like a basestation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			finder, err := ports.NewFinder(a.cfg.PortPatterns, a.lister)
			if err != nil {
				return err
			}
			found, err := finder.List()
			if err != nil {
				return err
			}
			if len(found) == 0 {
				fmt.Fprintln(a.out, "no matching serial ports found")
				return nil
			}
			for _, p := range found {
				fmt.Fprintln(a.out, p.Label())
			}
			return nil
		},
	}
}

func (a *app) flowsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "flows",
		Short: "List the flows that can be run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := a.catalog()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			for _, name := range catalog.Names() {
				f := catalog[name]
				gate := ""
				if f.Destructive() {
					gate = "confirm: " + f.Gate.Token
				}
				fmt.Fprintf(tw, "%s\t%d step(s)\t%s\t%s\n", name, len(f.Steps), gate, f.Description)
			}
			return tw.Flush()
		},
	}
}
