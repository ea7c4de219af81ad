package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"imaged/internal/gpu"
)

func newGPUsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "gpus",
		Short: "List the GPUs generators can be bound to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gpus, err := gpu.NewLister().List(cmd.Context())
			if errors.Is(err, gpu.ErrUnavailable) {
				fmt.Fprintln(cmd.ErrOrStderr(), "no GPU discovery available:", err)
				return nil
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(gpus)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tVRAM_GB")
			for _, g := range gpus {
				fmt.Fprintf(tw, "%d\t%s\t%.1f\n", g.ID, g.Name, g.TotalVRAMGB)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
