package observer

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dcshock/etlflow/pipeline"
	"github.com/dcshock/etlflow/repository"
)

// DBAttemptStore keeps the park-retry attempt count per run in
// pipeline_retry_attempt so MaxAttempts holds across restarts.
type DBAttemptStore struct {
	queries *repository.Queries
}

func NewDBAttemptStore(queries *repository.Queries) *DBAttemptStore {
	return &DBAttemptStore{queries: queries}
}

// GetAttempt returns 0 for a run that has not parked yet.
func (s *DBAttemptStore) GetAttempt(ctx context.Context, runID string) (int, error) {
	n, err := s.queries.GetRetryAttempt(ctx, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *DBAttemptStore) SetAttempt(ctx context.Context, runID string, attempt int) error {
	return s.queries.UpsertRetryAttempt(ctx, repository.UpsertRetryAttemptParams{
		RunID:        runID,
		AttemptCount: int32(attempt),
	})
}

var _ pipeline.AttemptStore = (*DBAttemptStore)(nil)
