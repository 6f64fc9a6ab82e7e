package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dcshock/etlflow/etl"
	"github.com/dcshock/etlflow/pipeline"
	"github.com/dcshock/etlflow/repository"
)

// SQLWriter stores records in the etl_result table, tagged with the run ID
// when the flow runs with an observer.
type SQLWriter struct {
	queries *repository.Queries
}

func NewSQLWriter(queries *repository.Queries) *SQLWriter {
	return &SQLWriter{queries: queries}
}

func (w *SQLWriter) Write(ctx context.Context, rec etl.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	var runID sql.NullString
	if id, ok := pipeline.RunIDFromContext(ctx); ok {
		runID = sql.NullString{String: id, Valid: true}
	}
	if _, err := w.queries.InsertEtlResult(ctx, repository.InsertEtlResultParams{RunID: runID, Record: data}); err != nil {
		return fmt.Errorf("insert etl_result: %w", err)
	}
	return nil
}

var _ etl.ResultWriter = (*SQLWriter)(nil)
