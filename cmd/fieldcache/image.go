package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldcache/fieldcache/internal/imagery"
)

func newImageCmd(a *app) *cobra.Command {
	var (
		bands string
		scale int
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "image LOCATION",
		Short: "Load an image from a path, http(s) URL or s3:// object as a cached field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Image
			if bands == "" {
				bands = cfg.Bands
			}
			b, err := imagery.ParseBands(bands)
			if err != nil {
				return err
			}
			if scale <= 0 {
				scale = cfg.ScaleFactor
			}

			ctx := cmd.Context()
			loader := imagery.NewLoaderFromConfig(cfg, a.logger("imagery"))
			f, err := imagery.NewField(ctx, a.mgr, loader, args[0], imagery.DecodeOptions{Bands: b, ScaleFactor: scale})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			report := func() {
				fmt.Fprintf(out, "%s %s state=%s", f.ID(), f.Shape(), f.State())
				for c, r := range f.GetRanges(ctx, false) {
					fmt.Fprintf(out, " range[%d]=%g..%g", c, r.Min, r.Max)
				}
				if breakers := loader.Breakers(); breakers != nil {
					for _, st := range breakers.Stats() {
						if st.State != "CLOSED" {
							fmt.Fprintf(out, " breaker[%s]=%s", st.Name, st.State)
						}
					}
				}
				if err := f.LastError(); err != nil {
					fmt.Fprintf(out, " error=%q", err)
				}
				fmt.Fprintln(out)
			}
			report()

			if !watch {
				return nil
			}
			interval := cfg.RefreshInterval
			if interval <= 0 {
				interval = time.Minute
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			r := imagery.NewRefresher(f, interval, cfg.RequestTimeout, a.logger("imagery"))
			if err := r.Start(ctx); err != nil {
				return err
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return r.Stop()
				case <-ticker.C:
					report()
				}
			}
		},
	}
	cmd.Flags().StringVar(&bands, "bands", "", "gray or rgb (default from configuration)")
	cmd.Flags().IntVar(&scale, "scale", 0, "downsampling factor (default from configuration)")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep refreshing the image until interrupted")
	return cmd
}
