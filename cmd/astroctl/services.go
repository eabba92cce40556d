package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newServicesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List registered calculators and their input schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			reg := offlineRegistry(opts.logger(cmd.ErrOrStderr()))
			for _, d := range reg.Descriptors() {
				fmt.Fprintf(out, "%s\n", d.ID)
				fields := make([]string, 0, len(d.Schema))
				for name := range d.Schema {
					fields = append(fields, name)
				}
				sort.Strings(fields)
				for _, name := range fields {
					f := d.Schema[name]
					req := ""
					if f.Required {
						req = " required"
					}
					fmt.Fprintf(out, "  %s %s%s %s\n", name, f.Type, req, f.Rules)
				}
			}
			return nil
		},
	}
}
