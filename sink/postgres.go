package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dcshock/etlflow/etl"
	"github.com/dcshock/etlflow/pipeline"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS etl_result (
    id         BIGSERIAL PRIMARY KEY,
    run_id     TEXT,
    record     JSONB NOT NULL,
    written_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresWriter stores records in a Postgres etl_result table.
type PostgresWriter struct {
	pool *pgxpool.Pool
}

// NewPostgresWriter uses an existing pool; the caller owns it.
func NewPostgresWriter(pool *pgxpool.Pool) *PostgresWriter {
	return &PostgresWriter{pool: pool}
}

// ConnectPostgres opens a pool for connString, checks it with a ping and
// creates the etl_result table if needed. Close the writer when done.
func ConnectPostgres(ctx context.Context, connString string) (*PostgresWriter, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	w := NewPostgresWriter(pool)
	if err := w.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return w, nil
}

func (w *PostgresWriter) EnsureSchema(ctx context.Context) error {
	if _, err := w.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create etl_result: %w", err)
	}
	return nil
}

func (w *PostgresWriter) Write(ctx context.Context, rec etl.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	var runID *string
	if id, ok := pipeline.RunIDFromContext(ctx); ok {
		runID = &id
	}
	if _, err := w.pool.Exec(ctx, `INSERT INTO etl_result (run_id, record) VALUES ($1, $2)`, runID, data); err != nil {
		return pipeline.RetryableErr(fmt.Errorf("insert etl_result: %w", err))
	}
	return nil
}

// StoredResult is a row of etl_result.
type StoredResult struct {
	ID        int64
	RunID     *string
	Record    etl.Record
	WrittenAt time.Time
}

// Results returns all stored records, oldest first.
func (w *PostgresWriter) Results(ctx context.Context) ([]StoredResult, error) {
	rows, err := w.pool.Query(ctx, `SELECT id, run_id, record, written_at FROM etl_result ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (StoredResult, error) {
		var (
			r   StoredResult
			raw []byte
		)
		if err := row.Scan(&r.ID, &r.RunID, &raw, &r.WrittenAt); err != nil {
			return r, err
		}
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err != nil {
			return r, err
		}
		rec, err := etl.AsRecord(m)
		r.Record = rec
		return r, err
	})
}

func (w *PostgresWriter) Close() { w.pool.Close() }

var _ etl.ResultWriter = (*PostgresWriter)(nil)
