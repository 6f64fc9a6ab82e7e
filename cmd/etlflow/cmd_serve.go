package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dcshock/etlflow/etl"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func newServeAPICmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-api",
		Short: "Serve the unreliable API over HTTP",
		Long: `Serves GET /api, which fails with 503 as often as --failure-rate says,
and Prometheus metrics on /metrics. Point "flow run --api-url" at it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv := newHTTPServer(addr, apiMux(a))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return serve(ctx, srv, a.log) })
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envOr("ADDR", ":8080"), "listen address")
	return cmd
}

func apiMux(a *app) *http.ServeMux {
	mux := metricsMux(a)
	mux.Handle("/api", etl.APIHandler(etl.NewUnreliableAPI(etl.WithSeed(a.seed), etl.WithFailureRate(a.failureRate))))
	return mux
}

func metricsMux(a *app) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(a.registry, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	return mux
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, log logrus.FieldLogger) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	log.WithField("addr", ln.Addr().String()).Info("listening")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
