package observer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dcshock/etlflow/pipeline"
	"github.com/dcshock/etlflow/repository"
)

// Run and stage statuses written by DBObserver.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusParked  = "parked"
)

// DBObserver persists flow runs and stage executions (pipeline_run,
// pipeline_run_stage) so runs can be monitored and resumed.
type DBObserver struct {
	queries *repository.Queries
}

func NewDBObserver(queries *repository.Queries) *DBObserver {
	return &DBObserver{queries: queries}
}

// BeforePipeline upserts the run as running; a resumed run reuses its row.
func (o *DBObserver) BeforePipeline(ctx context.Context, runID, name string, payload interface{}) error {
	payloadJSON, err := marshalOptional(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return o.queries.UpsertPipelineRun(ctx, repository.UpsertPipelineRunParams{
		RunID:   runID,
		Name:    name,
		Payload: payloadJSON,
	})
}

func (o *DBObserver) AfterPipeline(ctx context.Context, runID string, result interface{}, err error) error {
	resultJSON, _ := marshalOptional(result)
	return o.queries.UpdatePipelineRunComplete(ctx, repository.UpdatePipelineRunCompleteParams{
		RunID:  runID,
		Status: statusOf(err),
		Result: resultJSON,
		Error:  errText(err),
	})
}

func (o *DBObserver) BeforeStage(ctx context.Context, runID string, stageIndex int, input interface{}) error {
	inputJSON, err := marshalOptional(input)
	if err != nil {
		return fmt.Errorf("marshal stage input: %w", err)
	}
	return o.queries.InsertPipelineRunStage(ctx, repository.InsertPipelineRunStageParams{
		PipelineRunID: runID,
		StageIndex:    int32(stageIndex),
		InputJson:     inputJSON,
	})
}

func (o *DBObserver) AfterStage(ctx context.Context, runID string, stageIndex int, input, output interface{}, stageErr error, duration time.Duration) error {
	outputJSON, _ := marshalOptional(output)
	return o.queries.UpdatePipelineRunStage(ctx, repository.UpdatePipelineRunStageParams{
		PipelineRunID: runID,
		StageIndex:    int32(stageIndex),
		OutputJson:    outputJSON,
		Status:        statusOf(stageErr),
		Error:         errText(stageErr),
		DurationMs:    sql.NullInt64{Int64: duration.Milliseconds(), Valid: true},
	})
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case pipeline.IsParked(err):
		return StatusParked
	default:
		return StatusFailed
	}
}

func errText(err error) sql.NullString {
	if err == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: err.Error(), Valid: true}
}

func marshalOptional(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

var _ pipeline.Observer = (*DBObserver)(nil)
