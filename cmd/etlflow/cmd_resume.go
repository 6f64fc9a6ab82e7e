package main

import (
	"fmt"
	"time"

	"github.com/dcshock/etlflow/observer"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newResumeCmd(a *app) *cobra.Command {
	var (
		file        string
		every       time.Duration
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume parked runs that are due",
		Long: `Runs the remaining stages of every parked run whose resume time has
passed. With --every it keeps polling until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireDB(); err != nil {
				return err
			}
			catalog, err := a.catalog(cmd.OutOrStdout(), file)
			if err != nil {
				return err
			}
			resumer := observer.NewResumer(a.queries, catalog.Lookup, a.log)
			obs := a.observer()

			if every <= 0 {
				n, err := resumer.RunDue(cmd.Context(), obs)
				fmt.Fprintf(cmd.OutOrStdout(), "Resumed %s\n", english.Plural(n, "run", "runs"))
				return err
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return resumer.Run(ctx, obs, every) })
			if metricsAddr != "" {
				srv := newHTTPServer(metricsAddr, metricsMux(a))
				g.Go(func() error { return serve(ctx, srv, a.log) })
			}
			a.log.WithField("every", every.String()).Info("resume loop started")
			return g.Wait()
		},
	}
	f := cmd.Flags()
	f.StringVar(&file, "file", "", "YAML flow definition the parked runs may belong to")
	f.DurationVar(&every, "every", 0, "poll interval; 0 runs a single pass")
	f.StringVar(&metricsAddr, "metrics-addr", envOr("METRICS_ADDR", ""), "serve Prometheus metrics on this address while polling")
	return cmd
}
