package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tilekit/tilekit"
)

func (a *app) probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <archive>",
		Short: "Print container type, format, metadata, and coverage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := tilekit.Open(args[0], tilekit.WithLogger(a.logger))
			if err != nil {
				return err
			}
			defer r.Close()

			out := cmd.OutOrStdout()
			meta := r.Metadata()
			fmt.Fprintf(out, "source:      %s\n", r.Name())
			fmt.Fprintf(out, "container:   %s\n", r.ContainerName())
			fmt.Fprintf(out, "format:      %s\n", meta.Format)
			fmt.Fprintf(out, "compression: %s\n", meta.Compression)
			fmt.Fprintf(out, "tiles:       %d\n", r.Pyramid().Count())

			if values, err := meta.Values(); err == nil && len(values) > 0 {
				fmt.Fprintln(out, "metadata:")
				keys := make([]string, 0, len(values))
				for k := range values {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "  %s: %v\n", k, values[k])
				}
			}

			fmt.Fprintln(out, "coverage:")
			for bbox := range r.Pyramid().Levels() {
				fmt.Fprintf(out, "  %s\n", bbox)
			}
			return nil
		},
	}
}
