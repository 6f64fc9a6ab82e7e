package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TaskOption configures a task built with Task.
type TaskOption func(*taskConfig)

type taskConfig struct {
	retries    int
	retryDelay time.Duration
	retryIf    func(error) bool
}

// Retries sets how many extra attempts a task gets after its first failure.
// Retries(3) means at most four calls. Negative values are treated as zero.
func Retries(n int) TaskOption {
	return func(c *taskConfig) {
		if n < 0 {
			n = 0
		}
		c.retries = n
	}
}

// RetryDelay sets the wait between a failed attempt and the next one.
func RetryDelay(d time.Duration) TaskOption {
	return func(c *taskConfig) { c.retryDelay = d }
}

// RetryIf restricts retries to errors for which pred returns true (e.g.
// IsRetryable). Other errors fail the task immediately.
func RetryIf(pred func(error) bool) TaskOption {
	return func(c *taskConfig) { c.retryIf = pred }
}

// TaskError is returned by a task whose last attempt failed.
type TaskError struct {
	Task     string
	Attempts int
	Err      error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q failed after %d attempt(s): %v", e.Task, e.Attempts, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Task marks stage as a named task and retries it in process. On error the
// task waits RetryDelay and calls the stage again with the same input until
// it succeeds, runs out of retries, or the error is not accepted by RetryIf.
// ErrParked is never retried. Cancelling ctx while waiting stops the task.
//
// When the flow runs with an Observer implementing RetryObserver, OnRetry is
// called before every wait.
func Task(name string, stage Stage, opts ...TaskOption) Stage {
	var cfg taskConfig
	for _, o := range opts {
		o(&cfg)
	}
	return func(ctx context.Context, input interface{}) (interface{}, error) {
		attempts := cfg.retries + 1
		for attempt := 1; ; attempt++ {
			out, err := stage(ctx, input)
			if err == nil {
				return out, nil
			}
			if attempt >= attempts || IsParked(err) || (cfg.retryIf != nil && !cfg.retryIf(err)) {
				return nil, &TaskError{Task: name, Attempts: attempt, Err: err}
			}
			notifyRetry(ctx, name, attempt, err, cfg.retryDelay)
			if waitErr := wait(ctx, cfg.retryDelay); waitErr != nil {
				return nil, &TaskError{Task: name, Attempts: attempt, Err: errors.Join(err, waitErr)}
			}
		}
	}
}

func notifyRetry(ctx context.Context, task string, attempt int, err error, delay time.Duration) {
	meta, ok := runMetaFromContext(ctx)
	if !ok {
		return
	}
	if r, ok := meta.Observer.(RetryObserver); ok {
		r.OnRetry(ctx, meta.RunID, meta.StageIndex, task, attempt, err, delay)
	}
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
