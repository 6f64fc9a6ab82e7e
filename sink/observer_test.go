package sink

import (
	"context"
	"time"
)

// noopObserver gives a run a run ID without recording anything.
type noopObserver struct{}

func (noopObserver) BeforePipeline(context.Context, string, string, interface{}) error { return nil }
func (noopObserver) AfterPipeline(context.Context, string, interface{}, error) error { return nil }
func (noopObserver) BeforeStage(context.Context, string, int, interface{}) error { return nil }
func (noopObserver) AfterStage(context.Context, string, int, interface{}, interface{}, error, time.Duration) error {
	return nil
}
