package observer

import (
	"context"
	"time"

	"github.com/dcshock/etlflow/pipeline"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// LogObserver logs flow runs, stages and task retries. Parked runs are logged
// at info level, failures at error level. Hooks never fail.
type LogObserver struct {
	log logrus.FieldLogger
}

func NewLogObserver(log logrus.FieldLogger) *LogObserver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogObserver{log: log}
}

func (o *LogObserver) BeforePipeline(_ context.Context, runID, name string, _ interface{}) error {
	o.log.WithFields(logrus.Fields{"run_id": runID, "flow": name}).Info("flow run started")
	return nil
}

func (o *LogObserver) AfterPipeline(_ context.Context, runID string, result interface{}, err error) error {
	entry := o.log.WithField("run_id", runID)
	switch {
	case err == nil:
		entry.WithField("result", result).Info("flow run completed")
	case pipeline.IsParked(err):
		entry.Info("flow run parked")
	default:
		entry.WithError(err).Error("flow run failed")
	}
	return nil
}

func (o *LogObserver) BeforeStage(_ context.Context, runID string, stageIndex int, _ interface{}) error {
	o.log.WithFields(logrus.Fields{"run_id": runID, "stage": stageIndex}).Debug("stage started")
	return nil
}

func (o *LogObserver) AfterStage(_ context.Context, runID string, stageIndex int, _, _ interface{}, stageErr error, duration time.Duration) error {
	entry := o.log.WithFields(logrus.Fields{
		"run_id":   runID,
		"stage":    stageIndex,
		"status":   statusOf(stageErr),
		"duration": duration.String(),
	})
	if stageErr != nil && !pipeline.IsParked(stageErr) {
		entry.WithError(stageErr).Warn("stage failed")
		return nil
	}
	entry.Debug("stage finished")
	return nil
}

func (o *LogObserver) OnRetry(_ context.Context, runID string, stageIndex int, task string, attempt int, err error, delay time.Duration) {
	o.log.WithFields(logrus.Fields{
		"run_id": runID,
		"stage":  stageIndex,
		"task":   task,
		"delay":  delay.String(),
	}).WithError(err).Warnf("%s attempt failed, retrying", humanize.Ordinal(attempt))
}

var (
	_ pipeline.Observer      = (*LogObserver)(nil)
	_ pipeline.RetryObserver = (*LogObserver)(nil)
)
