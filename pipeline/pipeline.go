package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage is a single step in a flow. It receives the output of the previous
// stage (or the source) and returns the input for the next stage.
type Stage func(ctx context.Context, input interface{}) (interface{}, error)

// ConvertFunc converts value of type A to type B. Used by Transform to build a stage.
type ConvertFunc[A, B any] func(ctx context.Context, a A) (B, error)

// Transform returns a stage that converts the previous stage's output (type A) to type B.
func Transform[A, B any](convert ConvertFunc[A, B]) Stage {
	return func(ctx context.Context, input interface{}) (interface{}, error) {
		a, ok := input.(A)
		if !ok {
			var zero A
			return nil, fmt.Errorf("transform: expected %T, got %T", zero, input)
		}
		return convert(ctx, a)
	}
}

// RunOptions attaches an Observer, a RunID and flow parameters to a run.
// If Observer is set and RunID is empty, a new UUID is generated for the run.
// StageOffset is added to each stage index reported to the Observer; set it
// when resuming a run with only its remaining stages.
type RunOptions struct {
	Observer    Observer
	RunID       string
	StageOffset int
	Parameters  map[string]interface{}
}

// Pipeline is a flow: a named, linear chain of stages. Source is optional and
// only used by Run; inside a Sequence the payload is supplied by the caller.
type Pipeline struct {
	Name   string
	Source func(ctx context.Context) (interface{}, error)
	Stages []Stage
}

// Run executes the source (if non-nil) and then every stage in order.
func (p *Pipeline) Run(ctx context.Context, opts *RunOptions) (interface{}, error) {
	var in interface{}
	if p.Source != nil {
		var err error
		in, err = p.Source(withParameters(ctx, opts))
		if err != nil {
			return nil, fmt.Errorf("source: %w", err)
		}
	}
	return p.RunWithInput(ctx, in, opts)
}

// RunWithInput runs the stages starting with input; each stage's output is the
// next stage's input. It returns the last stage's output or the first error.
// With an Observer the run and each stage are reported through its hooks.
func (p *Pipeline) RunWithInput(ctx context.Context, input interface{}, opts *RunOptions) (interface{}, error) {
	ctx = withParameters(ctx, opts)
	if opts == nil || opts.Observer == nil {
		return runStages(ctx, p, input, nil, "", 0, 0)
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	return observed(ctx, opts.Observer, runID, p.Name, input, func(ctx context.Context) (interface{}, error) {
		return runStages(ctx, p, input, opts.Observer, runID, opts.StageOffset, opts.StageOffset)
	})
}

// observed wraps run with the pipeline-level hooks. An AfterPipeline error
// never masks the run's own error.
func observed(ctx context.Context, obs Observer, runID, name string, input interface{}, run func(context.Context) (interface{}, error)) (interface{}, error) {
	ctx = context.WithValue(ctx, flowNameKey{}, name)
	if err := obs.BeforePipeline(ctx, runID, name, input); err != nil {
		return nil, fmt.Errorf("before pipeline: %w", err)
	}
	result, err := run(ctx)
	if postErr := obs.AfterPipeline(ctx, runID, result, err); postErr != nil && err == nil {
		err = fmt.Errorf("after pipeline: %w", postErr)
	}
	return result, err
}

// runStages runs p's stages with optional observer hooks. offset is added to
// the local stage index for everything the observer sees; resumeBase is the
// position of p.Stages[0] in the full pipeline named p.Name.
func runStages(ctx context.Context, p *Pipeline, input interface{}, obs Observer, runID string, offset, resumeBase int) (interface{}, error) {
	out := input
	for i, stage := range p.Stages {
		idx := i + offset
		stageCtx := ctx
		if obs != nil {
			if err := obs.BeforeStage(ctx, runID, idx, out); err != nil {
				return nil, fmt.Errorf("before stage %d: %w", idx, err)
			}
			stageCtx = context.WithValue(ctx, runMetaKey{}, runMeta{
				RunID:        runID,
				PipelineName: p.Name,
				StageIndex:   idx,
				ResumeIndex:  resumeBase + i,
				Observer:     obs,
			})
		}
		start := time.Now()
		next, stageErr := stage(stageCtx, out)
		if obs != nil {
			postErr := obs.AfterStage(ctx, runID, idx, out, next, stageErr, time.Since(start))
			if postErr != nil && stageErr == nil {
				stageErr = fmt.Errorf("after stage: %w", postErr)
			}
		}
		if stageErr != nil {
			return nil, fmt.Errorf("stage %d: %w", idx, stageErr)
		}
		out = next
	}
	return out, nil
}

// Sequence runs several flows in order, handing every flow the same payload
// (payload → flow1, payload → flow2, …). It stops on the first error.
type Sequence struct {
	Name      string
	Pipelines []*Pipeline
}

// Run executes the sequence with payload and returns the last flow's result.
// With an Observer the sequence is reported as one run and stage indices are
// global across all flows.
func (s *Sequence) Run(ctx context.Context, payload interface{}, opts *RunOptions) (interface{}, error) {
	ctx = withParameters(ctx, opts)
	if opts == nil || opts.Observer == nil {
		return s.runPipelines(ctx, payload, nil, "")
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	return observed(ctx, opts.Observer, runID, s.Name, payload, func(ctx context.Context) (interface{}, error) {
		return s.runPipelines(ctx, payload, opts.Observer, runID)
	})
}

func (s *Sequence) runPipelines(ctx context.Context, payload interface{}, obs Observer, runID string) (interface{}, error) {
	var last interface{}
	offset := 0
	for i, p := range s.Pipelines {
		result, err := runStages(ctx, p, payload, obs, runID, offset, 0)
		if err != nil {
			return nil, fmt.Errorf("pipeline %d (%s): %w", i, p.Name, err)
		}
		offset += len(p.Stages)
		last = result
	}
	return last, nil
}
