package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dcshock/etlflow/config"
	"github.com/dcshock/etlflow/deployment"
	"github.com/dcshock/etlflow/etl"
	"github.com/dcshock/etlflow/internal/logging"
	"github.com/dcshock/etlflow/observer"
	"github.com/dcshock/etlflow/pipeline"
	"github.com/dcshock/etlflow/repository"
	"github.com/dcshock/etlflow/sink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const envPrefix = "ETLFLOW_"

// app holds the global flags and the resources opened for a command.
type app struct {
	logLevel    string
	logFormat   string
	dbPath      string
	postgresURL string
	apiURL      string
	seed        uint64
	failureRate float64
	retryDelay  time.Duration
	// retryDelaySet is true when --retry-delay or ETLFLOW_RETRY_DELAY was
	// given; it then also overrides retry_delay in flow files.
	retryDelaySet bool

	log      *logrus.Logger
	db       *sql.DB
	queries  *repository.Queries
	postgres *sink.PostgresWriter
	registry *prometheus.Registry
	metrics  *observer.MetricsObserver
}

// execute runs the CLI with args and releases what the command opened.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	defer a.close()
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "etlflow",
		Short: "Run the unreliable ETL flow and its deployments",
		Long: `etlflow calls an unreliable API, merges a message into the result and
writes it to a database, retrying the API call when it fails.

Runs are recorded in a SQLite database when --db is set, which also enables
park/resume retries (see "etlflow resume").`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_, inEnv := os.LookupEnv(envPrefix + "RETRY_DELAY")
			a.retryDelaySet = inEnv || cmd.Flags().Changed("retry-delay")
			return a.open(cmd.Context(), cmd.ErrOrStderr())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.logLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	pf.StringVar(&a.logFormat, "log-format", envOr("LOG_FORMAT", logging.FormatText), "log format (text or json)")
	pf.StringVar(&a.dbPath, "db", envOr("DB", ""), "SQLite database for run history and parked runs")
	pf.StringVar(&a.postgresURL, "postgres", envOr("POSTGRES_URL", ""), "also write results to this Postgres database")
	pf.StringVar(&a.apiURL, "api-url", envOr("API_URL", ""), "call the API over HTTP instead of in process")
	pf.Uint64Var(&a.seed, "seed", envUint("SEED", 0), "seed for the in-process API (0 = random)")
	pf.Float64Var(&a.failureRate, "failure-rate", envFloat("FAILURE_RATE", etl.DefaultFailureRate), "failure probability of the in-process API")
	pf.DurationVar(&a.retryDelay, "retry-delay", envDuration("RETRY_DELAY", etl.DefaultRetryDelay), "delay between API call retries")

	root.AddCommand(
		newFlowCmd(a),
		newDeploymentCmd(a),
		newResumeCmd(a),
		newServeAPICmd(a),
	)
	return root
}

func (a *app) open(ctx context.Context, stderr io.Writer) error {
	log, err := logging.New(logging.Options{Level: a.logLevel, Format: a.logFormat, Out: stderr})
	if err != nil {
		return err
	}
	a.log = log

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if a.metrics, err = observer.NewMetricsObserver(a.registry); err != nil {
		return err
	}

	if a.dbPath != "" {
		if a.db, err = repository.Open(ctx, a.dbPath); err != nil {
			return err
		}
		a.queries = repository.New(a.db)
	}
	if a.postgresURL != "" {
		if a.postgres, err = sink.ConnectPostgres(ctx, a.postgresURL); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) close() {
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && a.log != nil {
			a.log.WithError(err).Warn("close database")
		}
	}
}

// fetcher is the API the flow calls.
func (a *app) fetcher() etl.Fetcher {
	if a.apiURL != "" {
		return etl.NewAPIClient(nil, a.apiURL)
	}
	return etl.NewUnreliableAPI(etl.WithSeed(a.seed), etl.WithFailureRate(a.failureRate))
}

// writer prints every record and stores it in the configured databases.
func (a *app) writer(out io.Writer) etl.ResultWriter {
	writers := []etl.ResultWriter{sink.NewConsoleWriter(out)}
	if a.queries != nil {
		writers = append(writers, sink.NewSQLWriter(a.queries))
	}
	if a.postgres != nil {
		writers = append(writers, a.postgres)
	}
	return sink.Tee(writers...)
}

func (a *app) observer() pipeline.Observer {
	obs := []pipeline.Observer{observer.NewLogObserver(a.log), a.metrics}
	if a.queries != nil {
		obs = append(obs, observer.NewDBObserver(a.queries))
	}
	return pipeline.MultiObserver(obs...)
}

// catalog holds the built-in ETL flow plus the flow of flowFile, if any.
func (a *app) catalog(out io.Writer, flowFile string) (*deployment.Catalog, error) {
	api, w := a.fetcher(), a.writer(out)
	catalog := deployment.NewETLCatalog(api, w, etl.WithRetryDelay(a.retryDelay))
	if flowFile == "" {
		return catalog, nil
	}
	reg := config.NewRegistry()
	etl.RegisterTasks(reg, api, w)
	opts := &config.BuildOptions{}
	if a.retryDelaySet {
		opts.RetryDelay = &a.retryDelay
	}
	if a.queries != nil {
		opts.RetryPersist = observer.NewParkedRunStore(a.queries).PersistFunc()
		opts.RetryAttemptStore = observer.NewDBAttemptStore(a.queries)
	}
	if _, err := catalog.LoadFlowFile(reg, flowFile, opts); err != nil {
		return nil, err
	}
	return catalog, nil
}

// passthroughArgs are the global flags a child process needs to behave like
// this one.
func (a *app) passthroughArgs() []string {
	args := []string{
		"--log-level", a.logLevel,
		"--log-format", a.logFormat,
		"--seed", strconv.FormatUint(a.seed, 10),
		"--failure-rate", strconv.FormatFloat(a.failureRate, 'g', -1, 64),
	}
	if a.retryDelaySet {
		args = append(args, "--retry-delay", a.retryDelay.String())
	}
	optional := []struct{ flag, value string }{
		{"--db", a.dbPath},
		{"--postgres", a.postgresURL},
		{"--api-url", a.apiURL},
	}
	for _, o := range optional {
		if o.value != "" {
			args = append(args, o.flag, o.value)
		}
	}
	return args
}

func (a *app) requireDB() error {
	if a.queries == nil {
		return fmt.Errorf("this command needs a database: set --db or %sDB", envPrefix)
	}
	return nil
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		return v
	}
	return def
}

func envUint(key string, def uint64) uint64 {
	if n, err := strconv.ParseUint(envOr(key, ""), 10, 64); err == nil {
		return n
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(envOr(key, ""), 64); err == nil {
		return f
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(envOr(key, "")); err == nil {
		return d
	}
	return def
}
