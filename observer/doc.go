// Package observer provides pipeline.Observer implementations and parked-run
// persistence for the pipeline package.
//
//   - DBObserver: persists each flow run and its stages (pipeline_run,
//     pipeline_run_stage) through repository.Queries.
//   - LogObserver: logs runs, stages and task retries with logrus.
//   - MetricsObserver: Prometheus counters for runs and retries and a stage
//     duration histogram.
//   - ParkedRunStore: persists ParkedRun (from ParkStageAfter or Retry) to
//     pipeline_parked_run, flow parameters included. Use PersistFunc() with
//     ParkStageAfter or Retry.
//   - Resumer: finds parked runs where resume_at <= now and runs their
//     remaining stages. Register flows by name via PipelineLookup and call
//     RunDue periodically, or Run for a ticker loop.
//
// Combine observers with pipeline.MultiObserver.
//
// Retries and max attempts:
//
// Use DBAttemptStore with pipeline.ExponentialBackoffPersist and set
// ExponentialBackoffPolicy.MaxAttempts so the attempt count is stored in
// pipeline_retry_attempt and runs stop retrying after the limit, across
// restarts too.
//
// The SQLite store serializes writers, so run a single resumer per database.
package observer
