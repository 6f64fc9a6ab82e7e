package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dcshock/etlflow/pipeline"
	"github.com/dcshock/etlflow/repository"
	"github.com/sirupsen/logrus"
)

// PipelineLookup returns the flow for the given name, or nil if not found.
// Flows must be registered by name so the resumer can run remaining stages.
type PipelineLookup func(name string) *pipeline.Pipeline

// Resumer queries for parked runs due for resume and runs their remaining
// stages with the given observer.
type Resumer struct {
	queries *repository.Queries
	lookup  PipelineLookup
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewResumer(queries *repository.Queries, lookup PipelineLookup, log logrus.FieldLogger) *Resumer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resumer{queries: queries, lookup: lookup, log: log, now: time.Now}
}

// RunDue finds all parked runs with resume_at <= now, runs each flow from the
// saved stage with its saved parameters, and removes the parked row unless the
// run parked again. A failed resume is returned and not retried; an unknown
// flow name leaves the row in place for inspection. All due runs are
// attempted and the last error is returned. n counts the runs resumed.
func (r *Resumer) RunDue(ctx context.Context, obs pipeline.Observer) (n int, err error) {
	due, err := r.queries.GetPipelineParkedRunsDueForResume(ctx, r.now())
	if err != nil {
		return 0, fmt.Errorf("get parked runs due: %w", err)
	}
	var lastErr error
	for _, row := range due {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		log := r.log.WithFields(logrus.Fields{"run_id": row.RunID, "flow": row.PipelineName, "stage": row.NextStageIndex})
		if err := r.resumeOne(ctx, row, obs); err != nil {
			log.WithError(err).Warn("resume failed")
			lastErr = err
			continue
		}
		log.Debug("resumed")
		n++
	}
	return n, lastErr
}

// Run calls RunDue every interval until ctx is cancelled. Errors from a pass
// are logged and do not stop the loop.
func (r *Resumer) Run(ctx context.Context, obs pipeline.Observer, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("resumer: interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := r.RunDue(ctx, obs); err != nil && ctx.Err() == nil {
			r.log.WithError(err).Error("resume pass")
		} else if n > 0 {
			r.log.WithField("runs", n).Info("resume pass")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Resumer) resumeOne(ctx context.Context, row repository.PipelineParkedRun, obs pipeline.Observer) error {
	pl := r.lookup(row.PipelineName)
	if pl == nil {
		return fmt.Errorf("flow %q not found for run_id %s", row.PipelineName, row.RunID)
	}
	if int(row.NextStageIndex) >= len(pl.Stages) {
		return r.queries.DeletePipelineParkedRun(ctx, row.RunID)
	}
	var input interface{}
	if len(row.InputForNextStage) > 0 {
		if err := json.Unmarshal(row.InputForNextStage, &input); err != nil {
			return fmt.Errorf("unmarshal input for run_id %s: %w", row.RunID, err)
		}
	}
	var params map[string]interface{}
	if len(row.Parameters) > 0 {
		if err := json.Unmarshal(row.Parameters, &params); err != nil {
			return fmt.Errorf("unmarshal parameters for run_id %s: %w", row.RunID, err)
		}
	}
	remaining := &pipeline.Pipeline{
		Name:   pl.Name,
		Stages: pl.Stages[row.NextStageIndex:],
	}
	_, err := remaining.RunWithInput(ctx, input, &pipeline.RunOptions{
		RunID:       row.RunID,
		Observer:    obs,
		StageOffset: int(row.NextStageIndex),
		Parameters:  params,
	})
	if pipeline.IsParked(err) {
		return nil
	}
	if derr := r.queries.DeletePipelineParkedRun(ctx, row.RunID); derr != nil && err == nil {
		return fmt.Errorf("delete parked run %s: %w", row.RunID, derr)
	}
	return err
}
