// Package pipeline is the orchestration runtime for flows: named, linear
// chains of stages where each stage's output is the next stage's input.
//
// # Tasks and retries
//
// Task marks a stage as a named task and declares its retry policy:
//
//	fetch := pipeline.Task("call_unreliable_api", callAPI,
//		pipeline.Retries(3),
//		pipeline.RetryDelay(time.Second),
//		pipeline.RetryIf(pipeline.IsRetryable))
//
// Retries happen in process: the stage is called again with the same input
// after the delay. Stages signal failure by returning an error; they do not
// retry themselves. Use RetryableErr to mark transient errors.
//
// # Parameters
//
// RunOptions.Parameters reach every stage through the context; read them with
// Param or StringParam.
//
// # Observers
//
// An Observer sees BeforePipeline, BeforeStage/AfterStage and AfterPipeline.
// Observers that also implement RetryObserver are told about every task
// retry. Combine several with MultiObserver.
//
// # Park and resume
//
// For retries that must survive a restart, wrap a stage with Retry(stage,
// policy, persist). On a retryable failure it persists a ParkedRun (same
// stage, ResumeAt = now + Backoff) and returns ErrParked; a resume job runs
// the remaining stages when due. ExponentialBackoffPersist grows the delay
// per attempt and enforces MaxAttempts through an AttemptStore. ParkStage and
// ParkStageAfter pause a run deliberately. Parking needs a run with an
// Observer so the RunID is known.
//
// To resume, run only the remaining stages with the saved RunID and set
// StageOffset so the observer sees the original indices:
//
//	remaining := &pipeline.Pipeline{Name: saved.PipelineName, Stages: flow.Stages[saved.NextStageIndex:]}
//	result, err := remaining.RunWithInput(ctx, saved.InputForNextStage, &pipeline.RunOptions{
//		RunID:       saved.RunID,
//		Observer:    obs,
//		StageOffset: saved.NextStageIndex,
//	})
package pipeline
