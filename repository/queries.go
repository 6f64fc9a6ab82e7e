package repository

import (
	"context"
	"database/sql"
	"time"
)

type PipelineRun struct {
	RunID      string
	Name       string
	Status     string
	Payload    []byte
	Result     []byte
	Error      sql.NullString
	StartedAt  time.Time
	FinishedAt sql.NullTime
}

type PipelineRunStage struct {
	PipelineRunID string
	StageIndex    int32
	Status        string
	InputJson     []byte
	OutputJson    []byte
	Error         sql.NullString
	DurationMs    sql.NullInt64
}

type PipelineParkedRun struct {
	RunID             string
	PipelineName      string
	NextStageIndex    int32
	InputForNextStage []byte
	Parameters        []byte
	ResumeAt          time.Time
}

type EtlResult struct {
	ID        int64
	RunID     sql.NullString
	Record    []byte
	WrittenAt time.Time
}

const upsertPipelineRun = `
INSERT INTO pipeline_run (run_id, name, status, payload, started_at)
VALUES (?, ?, 'running', ?, ?)
ON CONFLICT (run_id) DO UPDATE SET status = 'running', finished_at = NULL`

type UpsertPipelineRunParams struct {
	RunID   string
	Name    string
	Payload []byte
}

// UpsertPipelineRun records a run as running. A resumed run keeps its
// original payload and start time.
func (q *Queries) UpsertPipelineRun(ctx context.Context, arg UpsertPipelineRunParams) error {
	_, err := q.db.ExecContext(ctx, upsertPipelineRun, arg.RunID, arg.Name, arg.Payload, q.now().UnixMilli())
	return err
}

const updatePipelineRunComplete = `
UPDATE pipeline_run SET status = ?, result = ?, error = ?, finished_at = ?
WHERE run_id = ?`

type UpdatePipelineRunCompleteParams struct {
	RunID  string
	Status string
	Result []byte
	Error  sql.NullString
}

func (q *Queries) UpdatePipelineRunComplete(ctx context.Context, arg UpdatePipelineRunCompleteParams) error {
	_, err := q.db.ExecContext(ctx, updatePipelineRunComplete, arg.Status, arg.Result, arg.Error, q.now().UnixMilli(), arg.RunID)
	return err
}

const getPipelineRun = `
SELECT run_id, name, status, payload, result, error, started_at, finished_at
FROM pipeline_run WHERE run_id = ?`

func (q *Queries) GetPipelineRun(ctx context.Context, runID string) (PipelineRun, error) {
	var (
		r        PipelineRun
		started  int64
		finished sql.NullInt64
	)
	err := q.db.QueryRowContext(ctx, getPipelineRun, runID).Scan(
		&r.RunID, &r.Name, &r.Status, &r.Payload, &r.Result, &r.Error, &started, &finished,
	)
	if err != nil {
		return PipelineRun{}, err
	}
	r.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		r.FinishedAt = sql.NullTime{Time: time.UnixMilli(finished.Int64), Valid: true}
	}
	return r, nil
}

const insertPipelineRunStage = `
INSERT INTO pipeline_run_stage (pipeline_run_id, stage_index, status, input_json, started_at)
VALUES (?, ?, 'running', ?, ?)
ON CONFLICT (pipeline_run_id, stage_index) DO UPDATE SET
    status = 'running', input_json = excluded.input_json, output_json = NULL,
    error = NULL, duration_ms = NULL, started_at = excluded.started_at`

type InsertPipelineRunStageParams struct {
	PipelineRunID string
	StageIndex    int32
	InputJson     []byte
}

// InsertPipelineRunStage records a stage as running. A stage re-executed on
// resume overwrites its previous row.
func (q *Queries) InsertPipelineRunStage(ctx context.Context, arg InsertPipelineRunStageParams) error {
	_, err := q.db.ExecContext(ctx, insertPipelineRunStage, arg.PipelineRunID, arg.StageIndex, arg.InputJson, q.now().UnixMilli())
	return err
}

const updatePipelineRunStage = `
UPDATE pipeline_run_stage SET output_json = ?, status = ?, error = ?, duration_ms = ?
WHERE pipeline_run_id = ? AND stage_index = ?`

type UpdatePipelineRunStageParams struct {
	PipelineRunID string
	StageIndex    int32
	OutputJson    []byte
	Status        string
	Error         sql.NullString
	DurationMs    sql.NullInt64
}

func (q *Queries) UpdatePipelineRunStage(ctx context.Context, arg UpdatePipelineRunStageParams) error {
	_, err := q.db.ExecContext(ctx, updatePipelineRunStage,
		arg.OutputJson, arg.Status, arg.Error, arg.DurationMs, arg.PipelineRunID, arg.StageIndex)
	return err
}

const listPipelineRunStages = `
SELECT pipeline_run_id, stage_index, status, input_json, output_json, error, duration_ms
FROM pipeline_run_stage WHERE pipeline_run_id = ? ORDER BY stage_index`

func (q *Queries) ListPipelineRunStages(ctx context.Context, runID string) ([]PipelineRunStage, error) {
	rows, err := q.db.QueryContext(ctx, listPipelineRunStages, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PipelineRunStage
	for rows.Next() {
		var s PipelineRunStage
		if err := rows.Scan(&s.PipelineRunID, &s.StageIndex, &s.Status, &s.InputJson, &s.OutputJson, &s.Error, &s.DurationMs); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

const upsertPipelineParkedRun = `
INSERT INTO pipeline_parked_run (run_id, pipeline_name, next_stage_index, input_for_next_stage, parameters, resume_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id) DO UPDATE SET
    pipeline_name = excluded.pipeline_name, next_stage_index = excluded.next_stage_index,
    input_for_next_stage = excluded.input_for_next_stage, parameters = excluded.parameters,
    resume_at = excluded.resume_at`

type UpsertPipelineParkedRunParams struct {
	RunID             string
	PipelineName      string
	NextStageIndex    int32
	InputForNextStage []byte
	Parameters        []byte
	ResumeAt          time.Time
}

func (q *Queries) UpsertPipelineParkedRun(ctx context.Context, arg UpsertPipelineParkedRunParams) error {
	_, err := q.db.ExecContext(ctx, upsertPipelineParkedRun,
		arg.RunID, arg.PipelineName, arg.NextStageIndex, arg.InputForNextStage, arg.Parameters, arg.ResumeAt.UnixMilli())
	return err
}

const getPipelineParkedRunsDueForResume = `
SELECT run_id, pipeline_name, next_stage_index, input_for_next_stage, parameters, resume_at
FROM pipeline_parked_run WHERE resume_at <= ? ORDER BY resume_at`

func (q *Queries) GetPipelineParkedRunsDueForResume(ctx context.Context, now time.Time) ([]PipelineParkedRun, error) {
	rows, err := q.db.QueryContext(ctx, getPipelineParkedRunsDueForResume, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PipelineParkedRun
	for rows.Next() {
		var (
			p        PipelineParkedRun
			resumeAt int64
		)
		if err := rows.Scan(&p.RunID, &p.PipelineName, &p.NextStageIndex, &p.InputForNextStage, &p.Parameters, &resumeAt); err != nil {
			return nil, err
		}
		p.ResumeAt = time.UnixMilli(resumeAt)
		items = append(items, p)
	}
	return items, rows.Err()
}

const deletePipelineParkedRun = `DELETE FROM pipeline_parked_run WHERE run_id = ?`

func (q *Queries) DeletePipelineParkedRun(ctx context.Context, runID string) error {
	_, err := q.db.ExecContext(ctx, deletePipelineParkedRun, runID)
	return err
}

const getRetryAttempt = `SELECT attempt_count FROM pipeline_retry_attempt WHERE run_id = ?`

// GetRetryAttempt returns sql.ErrNoRows for a run that never parked.
func (q *Queries) GetRetryAttempt(ctx context.Context, runID string) (int32, error) {
	var n int32
	err := q.db.QueryRowContext(ctx, getRetryAttempt, runID).Scan(&n)
	return n, err
}

const upsertRetryAttempt = `
INSERT INTO pipeline_retry_attempt (run_id, attempt_count) VALUES (?, ?)
ON CONFLICT (run_id) DO UPDATE SET attempt_count = excluded.attempt_count`

type UpsertRetryAttemptParams struct {
	RunID        string
	AttemptCount int32
}

func (q *Queries) UpsertRetryAttempt(ctx context.Context, arg UpsertRetryAttemptParams) error {
	_, err := q.db.ExecContext(ctx, upsertRetryAttempt, arg.RunID, arg.AttemptCount)
	return err
}

const insertEtlResult = `INSERT INTO etl_result (run_id, record, written_at) VALUES (?, ?, ?)`

type InsertEtlResultParams struct {
	RunID  sql.NullString
	Record []byte
}

func (q *Queries) InsertEtlResult(ctx context.Context, arg InsertEtlResultParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertEtlResult, arg.RunID, arg.Record, q.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const listEtlResults = `SELECT id, run_id, record, written_at FROM etl_result ORDER BY id`

func (q *Queries) ListEtlResults(ctx context.Context) ([]EtlResult, error) {
	rows, err := q.db.QueryContext(ctx, listEtlResults)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []EtlResult
	for rows.Next() {
		var (
			r       EtlResult
			written int64
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Record, &written); err != nil {
			return nil, err
		}
		r.WrittenAt = time.UnixMilli(written)
		items = append(items, r)
	}
	return items, rows.Err()
}
