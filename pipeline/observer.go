package pipeline

import (
	"context"
	"time"
)

// Observer provides pre/post hooks for flow and stage execution so run state
// can be persisted (e.g. to a DB), logged or measured. BeforePipeline is
// called before any stage runs, BeforeStage/AfterStage around each stage and
// AfterPipeline when the flow finishes (success or error).
type Observer interface {
	BeforePipeline(ctx context.Context, runID, name string, payload interface{}) error
	AfterPipeline(ctx context.Context, runID string, result interface{}, err error) error
	BeforeStage(ctx context.Context, runID string, stageIndex int, input interface{}) error
	AfterStage(ctx context.Context, runID string, stageIndex int, input, output interface{}, stageErr error, duration time.Duration) error
}

// RetryObserver is implemented by observers that want to hear about in-process
// task retries. OnRetry is called after a failed attempt, before waiting delay.
// attempt is 1-based and names the attempt that just failed.
type RetryObserver interface {
	OnRetry(ctx context.Context, runID string, stageIndex int, task string, attempt int, err error, delay time.Duration)
}

// MultiObserver returns an Observer that calls each observer in order. The
// first hook error stops the fan-out and is returned. Nil observers are
// skipped. OnRetry is forwarded to every observer implementing RetryObserver.
func MultiObserver(observers ...Observer) Observer {
	list := make(multiObserver, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) BeforePipeline(ctx context.Context, runID, name string, payload interface{}) error {
	for _, o := range m {
		if err := o.BeforePipeline(ctx, runID, name, payload); err != nil {
			return err
		}
	}
	return nil
}

func (m multiObserver) AfterPipeline(ctx context.Context, runID string, result interface{}, err error) error {
	for _, o := range m {
		if postErr := o.AfterPipeline(ctx, runID, result, err); postErr != nil {
			return postErr
		}
	}
	return nil
}

func (m multiObserver) BeforeStage(ctx context.Context, runID string, stageIndex int, input interface{}) error {
	for _, o := range m {
		if err := o.BeforeStage(ctx, runID, stageIndex, input); err != nil {
			return err
		}
	}
	return nil
}

func (m multiObserver) AfterStage(ctx context.Context, runID string, stageIndex int, input, output interface{}, stageErr error, duration time.Duration) error {
	for _, o := range m {
		if err := o.AfterStage(ctx, runID, stageIndex, input, output, stageErr, duration); err != nil {
			return err
		}
	}
	return nil
}

func (m multiObserver) OnRetry(ctx context.Context, runID string, stageIndex int, task string, attempt int, err error, delay time.Duration) {
	for _, o := range m {
		if r, ok := o.(RetryObserver); ok {
			r.OnRetry(ctx, runID, stageIndex, task, attempt, err, delay)
		}
	}
}

type flowNameKey struct{}

// FlowNameFromContext returns the name of the flow or sequence an observed
// run executes. Every hook and stage of the run sees it.
func FlowNameFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(flowNameKey{}).(string)
	return name, ok
}

// runMeta is injected into the stage context when the flow runs with an
// Observer. ParkStage, Retry and Task read it.
type runMetaKey struct{}

// StageIndex is the index the observer sees. ResumeIndex is the index into
// the full stage list of PipelineName, so a run resumed with a StageOffset
// parks at the same index a fresh run would.
type runMeta struct {
	RunID, PipelineName string
	StageIndex          int
	ResumeIndex         int
	Observer            Observer
}

func runMetaFromContext(ctx context.Context) (runMeta, bool) {
	m, ok := ctx.Value(runMetaKey{}).(runMeta)
	return m, ok
}

// RunIDFromContext returns the run ID of the observed run executing the stage.
func RunIDFromContext(ctx context.Context) (string, bool) {
	m, ok := runMetaFromContext(ctx)
	if !ok {
		return "", false
	}
	return m.RunID, true
}
