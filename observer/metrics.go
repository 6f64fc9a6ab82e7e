package observer

import (
	"context"
	"strconv"
	"time"

	"github.com/dcshock/etlflow/pipeline"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "etlflow"

// MetricsObserver exports flow runs, stage durations and task retries as
// Prometheus metrics. Hooks never fail. It keeps no per-run state: the flow
// label comes from pipeline.FlowNameFromContext.
type MetricsObserver struct {
	runs    *prometheus.CounterVec
	stages  *prometheus.HistogramVec
	retries *prometheus.CounterVec
}

// NewMetricsObserver creates the collectors and registers them on reg.
func NewMetricsObserver(reg prometheus.Registerer) (*MetricsObserver, error) {
	m := &MetricsObserver{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "flow_runs_total",
			Help:      "Finished flow runs by flow and status.",
		}, []string{"flow", "status"}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "stage_duration_seconds",
			Help:      "Stage execution time by flow, stage index and status.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"flow", "stage", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "task_retries_total",
			Help:      "In-process task retries by flow and task.",
		}, []string{"flow", "task"}),
	}
	for _, c := range []prometheus.Collector{m.runs, m.stages, m.retries} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MetricsObserver) BeforePipeline(context.Context, string, string, interface{}) error {
	return nil
}

func (m *MetricsObserver) AfterPipeline(ctx context.Context, _ string, _ interface{}, err error) error {
	m.runs.WithLabelValues(flowName(ctx), statusOf(err)).Inc()
	return nil
}

func (m *MetricsObserver) BeforeStage(context.Context, string, int, interface{}) error { return nil }

func (m *MetricsObserver) AfterStage(ctx context.Context, _ string, stageIndex int, _, _ interface{}, stageErr error, duration time.Duration) error {
	m.stages.WithLabelValues(flowName(ctx), strconv.Itoa(stageIndex), statusOf(stageErr)).Observe(duration.Seconds())
	return nil
}

func (m *MetricsObserver) OnRetry(ctx context.Context, _ string, _ int, task string, _ int, _ error, _ time.Duration) {
	m.retries.WithLabelValues(flowName(ctx), task).Inc()
}

func flowName(ctx context.Context) string {
	name, _ := pipeline.FlowNameFromContext(ctx)
	return name
}

var (
	_ pipeline.Observer      = (*MetricsObserver)(nil)
	_ pipeline.RetryObserver = (*MetricsObserver)(nil)
)
