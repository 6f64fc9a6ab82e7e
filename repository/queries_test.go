package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Queries {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "etl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "etl.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(context.Background(), db))
}

func TestPipelineRun_Lifecycle(t *testing.T) {
	ctx := context.Background()
	q := openTest(t)

	require.NoError(t, q.UpsertPipelineRun(ctx, UpsertPipelineRunParams{RunID: "r1", Name: "etl", Payload: []byte(`"in"`)}))
	run, err := q.GetPipelineRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "running", run.Status)
	assert.Equal(t, `"in"`, string(run.Payload))
	assert.False(t, run.FinishedAt.Valid)

	require.NoError(t, q.UpdatePipelineRunComplete(ctx, UpdatePipelineRunCompleteParams{
		RunID:  "r1",
		Status: "failed",
		Error:  sql.NullString{String: "boom", Valid: true},
	}))
	run, err = q.GetPipelineRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "failed", run.Status)
	assert.Equal(t, "boom", run.Error.String)
	assert.True(t, run.FinishedAt.Valid)

	// resuming flips the run back to running but keeps the payload
	require.NoError(t, q.UpsertPipelineRun(ctx, UpsertPipelineRunParams{RunID: "r1", Name: "etl", Payload: []byte(`"other"`)}))
	run, err = q.GetPipelineRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "running", run.Status)
	assert.Equal(t, `"in"`, string(run.Payload))
}

func TestPipelineRunStage_Rerun(t *testing.T) {
	ctx := context.Background()
	q := openTest(t)

	require.NoError(t, q.InsertPipelineRunStage(ctx, InsertPipelineRunStageParams{PipelineRunID: "r1", StageIndex: 0, InputJson: []byte("1")}))
	require.NoError(t, q.UpdatePipelineRunStage(ctx, UpdatePipelineRunStageParams{
		PipelineRunID: "r1",
		StageIndex:    0,
		Status:        "parked",
		DurationMs:    sql.NullInt64{Int64: 5, Valid: true},
	}))
	require.NoError(t, q.InsertPipelineRunStage(ctx, InsertPipelineRunStageParams{PipelineRunID: "r1", StageIndex: 0, InputJson: []byte("2")}))
	require.NoError(t, q.UpdatePipelineRunStage(ctx, UpdatePipelineRunStageParams{
		PipelineRunID: "r1",
		StageIndex:    0,
		OutputJson:    []byte("3"),
		Status:        "success",
	}))

	stages, err := q.ListPipelineRunStages(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, "success", stages[0].Status)
	assert.Equal(t, "2", string(stages[0].InputJson))
	assert.Equal(t, "3", string(stages[0].OutputJson))
}

func TestParkedRuns_Due(t *testing.T) {
	ctx := context.Background()
	q := openTest(t)
	now := time.Now()

	require.NoError(t, q.UpsertPipelineParkedRun(ctx, UpsertPipelineParkedRunParams{
		RunID: "due", PipelineName: "etl", NextStageIndex: 1, InputForNextStage: []byte("{}"), ResumeAt: now.Add(-time.Second),
	}))
	require.NoError(t, q.UpsertPipelineParkedRun(ctx, UpsertPipelineParkedRunParams{
		RunID: "later", PipelineName: "etl", NextStageIndex: 0, InputForNextStage: []byte("null"), ResumeAt: now.Add(time.Hour),
	}))

	due, err := q.GetPipelineParkedRunsDueForResume(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due", due[0].RunID)
	assert.EqualValues(t, 1, due[0].NextStageIndex)

	require.NoError(t, q.DeletePipelineParkedRun(ctx, "due"))
	due, err = q.GetPipelineParkedRunsDueForResume(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "later", due[0].RunID)
}

func TestRetryAttempt(t *testing.T) {
	ctx := context.Background()
	q := openTest(t)

	_, err := q.GetRetryAttempt(ctx, "r1")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	require.NoError(t, q.UpsertRetryAttempt(ctx, UpsertRetryAttemptParams{RunID: "r1", AttemptCount: 1}))
	require.NoError(t, q.UpsertRetryAttempt(ctx, UpsertRetryAttemptParams{RunID: "r1", AttemptCount: 2}))
	n, err := q.GetRetryAttempt(ctx, "r1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestEtlResults(t *testing.T) {
	ctx := context.Background()
	q := openTest(t)

	id, err := q.InsertEtlResult(ctx, InsertEtlResultParams{
		RunID:  sql.NullString{String: "r1", Valid: true},
		Record: []byte(`{"data":42,"message":"hi"}`),
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	results, err := q.ListEtlResults(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r1", results[0].RunID.String)
	assert.JSONEq(t, `{"data":42,"message":"hi"}`, string(results[0].Record))
}
