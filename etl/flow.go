package etl

import (
	"context"
	"time"

	"github.com/dcshock/etlflow/config"
	"github.com/dcshock/etlflow/pipeline"
)

// FlowName is the name of the ETL flow.
const FlowName = "Previously unreliable pipeline"

// Task names, as referenced from YAML flow definitions.
const (
	TaskCallUnreliableAPI      = "call_unreliable_api"
	TaskAugmentData            = "augment_data"
	TaskWriteResultsToDatabase = "write_results_to_database"
)

// ParamMsg is the flow parameter merged into the record.
const ParamMsg = "msg"

// Retry settings of the call_unreliable_api task.
const (
	DefaultRetries    = 3
	DefaultRetryDelay = time.Second
)

type flowConfig struct {
	retries    int
	retryDelay time.Duration
}

// FlowOption overrides the retry settings of the API task.
type FlowOption func(*flowConfig)

func WithRetries(n int) FlowOption { return func(c *flowConfig) { c.retries = n } }

func WithRetryDelay(d time.Duration) FlowOption { return func(c *flowConfig) { c.retryDelay = d } }

// NewFlow builds the ETL flow: call the API (retried), merge the "msg"
// parameter into the record, write it with w. Its result is SuccessMessage.
func NewFlow(api Fetcher, w ResultWriter, opts ...FlowOption) *pipeline.Pipeline {
	cfg := flowConfig{retries: DefaultRetries, retryDelay: DefaultRetryDelay}
	for _, o := range opts {
		o(&cfg)
	}
	return &pipeline.Pipeline{
		Name: FlowName,
		Stages: []pipeline.Stage{
			pipeline.Task(TaskCallUnreliableAPI, CallAPIStage(api),
				pipeline.Retries(cfg.retries),
				pipeline.RetryDelay(cfg.retryDelay),
			),
			pipeline.Task(TaskAugmentData, AugmentStage()),
			pipeline.Task(TaskWriteResultsToDatabase, WriteStage(w)),
		},
	}
}

// Parameters returns the flow parameters for msg.
func Parameters(msg string) map[string]interface{} {
	return map[string]interface{}{ParamMsg: msg}
}

// CallAPIStage ignores its input and returns the record fetched from api.
func CallAPIStage(api Fetcher) pipeline.Stage {
	return func(ctx context.Context, _ interface{}) (interface{}, error) {
		return api.Call(ctx)
	}
}

// AugmentStage merges the "msg" flow parameter into the input record.
func AugmentStage() pipeline.Stage {
	return func(ctx context.Context, input interface{}) (interface{}, error) {
		rec, err := AsRecord(input)
		if err != nil {
			return nil, err
		}
		msg, ok := pipeline.StringParam(ctx, ParamMsg)
		if !ok {
			return nil, ErrMissingMessage
		}
		return AugmentData(rec, msg), nil
	}
}

// WriteStage writes the input record with w.
func WriteStage(w ResultWriter) pipeline.Stage {
	return func(ctx context.Context, input interface{}) (interface{}, error) {
		rec, err := AsRecord(input)
		if err != nil {
			return nil, err
		}
		return WriteResultsToDatabase(ctx, w, rec)
	}
}

// RegisterTasks registers the three tasks under their names, without retry
// settings; a YAML definition adds those per stage (retries, retry_delay).
func RegisterTasks(reg *config.Registry, api Fetcher, w ResultWriter) {
	reg.Register(TaskCallUnreliableAPI, CallAPIStage(api))
	reg.Register(TaskAugmentData, AugmentStage())
	reg.Register(TaskWriteResultsToDatabase, WriteStage(w))
}

// FlowConfig is the declarative form of NewFlow.
func FlowConfig() *config.PipelineConfig {
	return &config.PipelineConfig{
		Name: FlowName,
		Stages: []config.StageRef{
			{
				Name:       TaskCallUnreliableAPI,
				Retries:    DefaultRetries,
				RetryDelay: config.Duration(DefaultRetryDelay),
			},
			{Name: TaskAugmentData},
			{Name: TaskWriteResultsToDatabase},
		},
	}
}
