package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrParked is returned by ParkStage (and by Retry on retryable failure) after
// run state was persisted for later execution. Treat it as "paused, not
// failed": the resume job picks the run up when due.
var ErrParked = errors.New("pipeline parked for later execution")

func IsParked(err error) bool { return errors.Is(err, ErrParked) }

// Retryable marks an error as transient. Use it with RetryPolicy.ShouldRetry
// or RetryIf so only these errors trigger a retry.
type Retryable struct{ Err error }

func (e *Retryable) Error() string { return e.Err.Error() }
func (e *Retryable) Unwrap() error { return e.Err }

func RetryableErr(err error) error { return &Retryable{Err: err} }
func IsRetryable(err error) bool   { return errors.As(err, new(*Retryable)) }

// RunState is the minimal state to persist so a run can be resumed after
// shutdown: the run, the flow name, the stage to run next, its input and the
// flow parameters the run was started with.
type RunState struct {
	RunID             string
	PipelineName      string
	NextStageIndex    int
	InputForNextStage interface{} // must be serializable (JSON) for DB stores
	Parameters        map[string]interface{}
}

// ParkedRun is a RunState with the time it becomes due.
type ParkedRun struct {
	RunState
	ResumeAt time.Time // zero means the caller decides
}

// ParkPersist saves run state for later execution.
type ParkPersist func(ctx context.Context, state RunState) error

// ParkPersistWithTime saves a parked run together with its resume time.
type ParkPersistWithTime func(ctx context.Context, parked ParkedRun) error

// RetryPolicy configures Retry. Backoff is the delay before the parked run is
// due. If ShouldRetry is non-nil only errors it accepts are parked; others
// fail the run. MaxAttempts is enforced by the persist callback (see
// ExponentialBackoffPersist), not by Retry itself.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	ShouldRetry func(err error) bool
}

// Retry wraps a stage so that a retryable failure parks the run to re-execute
// the same stage after policy.Backoff instead of blocking the caller. It needs
// a run with an Observer. If persist refuses (e.g. attempts exhausted), the
// persist error and the stage error are both returned.
func Retry(inner Stage, policy RetryPolicy, persist ParkPersistWithTime) Stage {
	return func(ctx context.Context, input interface{}) (interface{}, error) {
		out, err := inner(ctx, input)
		if err == nil {
			return out, nil
		}
		if policy.ShouldRetry != nil && !policy.ShouldRetry(err) {
			return nil, err
		}
		meta, ok := runMetaFromContext(ctx)
		if !ok {
			return nil, fmt.Errorf("retry: pipeline must be run with Observer and RunID: %w", err)
		}
		parked := ParkedRun{
			RunState: state(ctx, meta, meta.ResumeIndex, input),
			ResumeAt: time.Now().Add(policy.Backoff),
		}
		if perr := persist(ctx, parked); perr != nil {
			return nil, fmt.Errorf("retry: persist: %w: %w", perr, err)
		}
		return nil, ErrParked
	}
}

// ParkStage persists the run so it continues with the next stage later and
// returns ErrParked. Needs a run with an Observer.
func ParkStage(persist ParkPersist) Stage {
	return func(ctx context.Context, input interface{}) (interface{}, error) {
		meta, ok := runMetaFromContext(ctx)
		if !ok {
			return nil, fmt.Errorf("park: pipeline must be run with Observer and RunID")
		}
		if err := persist(ctx, state(ctx, meta, meta.ResumeIndex+1, input)); err != nil {
			return nil, fmt.Errorf("park: persist: %w", err)
		}
		return nil, ErrParked
	}
}

// ParkStageAfter is ParkStage with ResumeAt set to now + delay.
func ParkStageAfter(delay time.Duration, persist ParkPersistWithTime) Stage {
	return func(ctx context.Context, input interface{}) (interface{}, error) {
		meta, ok := runMetaFromContext(ctx)
		if !ok {
			return nil, fmt.Errorf("park: pipeline must be run with Observer and RunID")
		}
		parked := ParkedRun{
			RunState: state(ctx, meta, meta.ResumeIndex+1, input),
			ResumeAt: time.Now().Add(delay),
		}
		if err := persist(ctx, parked); err != nil {
			return nil, fmt.Errorf("park: persist: %w", err)
		}
		return nil, ErrParked
	}
}

func state(ctx context.Context, meta runMeta, next int, input interface{}) RunState {
	params, _ := ctx.Value(paramsKey{}).(map[string]interface{})
	return RunState{
		RunID:             meta.RunID,
		PipelineName:      meta.PipelineName,
		NextStageIndex:    next,
		InputForNextStage: input,
		Parameters:        params,
	}
}
