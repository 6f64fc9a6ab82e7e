package observer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dcshock/etlflow/pipeline"
	"github.com/dcshock/etlflow/repository"
)

// ParkedRunStore persists parked runs (from ParkStageAfter or Retry).
type ParkedRunStore struct {
	queries *repository.Queries
}

func NewParkedRunStore(queries *repository.Queries) *ParkedRunStore {
	return &ParkedRunStore{queries: queries}
}

// Save inserts or replaces the parked run keyed by run ID.
func (s *ParkedRunStore) Save(ctx context.Context, parked pipeline.ParkedRun) error {
	inputJSON, err := marshalOptional(parked.InputForNextStage)
	if err != nil {
		return fmt.Errorf("marshal input_for_next_stage: %w", err)
	}
	if inputJSON == nil {
		inputJSON = []byte("null")
	}
	var paramsJSON []byte
	if len(parked.Parameters) > 0 {
		if paramsJSON, err = json.Marshal(parked.Parameters); err != nil {
			return fmt.Errorf("marshal parameters: %w", err)
		}
	}
	return s.queries.UpsertPipelineParkedRun(ctx, repository.UpsertPipelineParkedRunParams{
		RunID:             parked.RunID,
		PipelineName:      parked.PipelineName,
		NextStageIndex:    int32(parked.NextStageIndex),
		InputForNextStage: inputJSON,
		Parameters:        paramsJSON,
		ResumeAt:          parked.ResumeAt,
	})
}

// PersistFunc adapts Save for ParkStageAfter and Retry.
func (s *ParkedRunStore) PersistFunc() pipeline.ParkPersistWithTime {
	return s.Save
}
