package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fieldcache/fieldcache/internal/grid"
)

func newGridCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Work with netCDF grids",
	}
	cmd.AddCommand(newGridInspectCmd(a), newGridReadCmd(a))
	return cmd
}

func newGridInspectCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "List the variables of a netCDF file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := grid.OpenNetCDF(args[0], a.cfg.Grid.TimeDimension, a.logger("grid"))
			if err != nil {
				return err
			}
			defer backend.Close()

			layouts := make([]grid.Layout, 0, len(backend.Variables()))
			for _, v := range backend.Variables() {
				layout, err := backend.Layout(v)
				if err != nil {
					return err
				}
				layouts = append(layouts, layout)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(layouts)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VARIABLE\tDIMENSIONS\tTIMES\tUNITS")
			for _, l := range layouts {
				dims := make([]string, len(l.Dims))
				for i := range l.Dims {
					dims[i] = fmt.Sprintf("%s=%d", l.Dims[i], l.Lengths[i])
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", l.Variable, strings.Join(dims, " "), l.Times(), l.Units)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print layouts as JSON")
	return cmd
}

func newGridReadCmd(a *app) *cobra.Command {
	var (
		timeIndex int
		index     int
	)
	cmd := &cobra.Command{
		Use:   "read FILE VARIABLE",
		Short: "Load one time step of a variable as a cached field",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := grid.OpenNetCDF(args[0], a.cfg.Grid.TimeDimension, a.logger("grid"))
			if err != nil {
				return err
			}
			src := grid.NewSourceFromConfig(a.mgr, backend, a.cfg.Grid, a.logger("grid"))
			defer src.Close()

			ctx := cmd.Context()
			f, err := src.Field(ctx, args[1], timeIndex)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "field:  %s\n", f.ID())
			fmt.Fprintf(out, "shape:  %s\n", f.Shape())
			if label, ok := f.Metadata().Attributes["time"]; ok {
				fmt.Fprintf(out, "time:   %s\n", label)
			}
			for c, r := range f.GetRanges(ctx, false) {
				if r.IsEmpty() {
					fmt.Fprintf(out, "range[%d]: no data\n", c)
					continue
				}
				fmt.Fprintf(out, "range[%d]: %g .. %g\n", c, r.Min, r.Max)
			}
			if index >= 0 {
				sample, err := f.GetElement(ctx, index)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "value[%d]: %v (missing=%t)\n", index, sample.Values, sample.Missing)
			}
			fmt.Fprintf(out, "state:  %s\n", f.State())
			if stats, ok := a.mgr.SpillStats(); ok {
				fmt.Fprintf(out, "spill:  %d files, %s in %s\n", stats.Files, humanize.Bytes(uint64(stats.Bytes)), stats.Directory)
			}
			if err := f.LastError(); err != nil {
				fmt.Fprintf(out, "error:  %v\n", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&timeIndex, "time", 0, "time index")
	cmd.Flags().IntVar(&index, "index", -1, "print the sample at this flat index")
	return cmd
}
