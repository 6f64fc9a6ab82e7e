package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dcshock/etlflow/pipeline"
)

// Park retry kinds accepted in StageRef.Retry.
const (
	RetryFixed       = "fixed"
	RetryExponential = "exponential"
)

// defaultInitial is the park delay when a stage sets retry without initial.
const defaultInitial = time.Second

// BuildOptions supplies what a flow definition refers to but cannot hold.
type BuildOptions struct {
	// RetryPersist saves runs parked by a stage with retry. Required as soon
	// as one stage sets retry.
	RetryPersist pipeline.ParkPersistWithTime

	// RetryAttemptStore counts exponential retry attempts per run. Nil means
	// an in-memory store, which only works within one process.
	RetryAttemptStore pipeline.AttemptStore

	// RetryDelay, when set, replaces the retry_delay of every stage with
	// retries, so a command line flag can win over the file.
	RetryDelay *time.Duration

	// SourceRegistry resolves PipelineConfig.Source.
	SourceRegistry *SourceRegistry

	// ObserverRegistry resolves PipelineConfig.Observers for BuildObserver.
	ObserverRegistry *ObserverRegistry
}

// BuildPipeline turns cfg into a flow whose stages come from reg. Every stage
// runs as a pipeline.Task named after its registry entry, so failures name
// the task; retries, retry_delay, timeout and retry modify it.
func BuildPipeline(reg *Registry, cfg *PipelineConfig, opts *BuildOptions) (*pipeline.Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	p := &pipeline.Pipeline{Name: cfg.Name}
	if cfg.Source != "" {
		if opts == nil || opts.SourceRegistry == nil {
			return nil, fmt.Errorf("source %q: no SourceRegistry", cfg.Source)
		}
		src, ok := opts.SourceRegistry.Get(cfg.Source)
		if !ok {
			return nil, fmt.Errorf("source %q not in registry", cfg.Source)
		}
		p.Source = src
	}
	for i, ref := range cfg.Stages {
		stage, err := buildStage(reg, ref, opts)
		if err != nil {
			return nil, fmt.Errorf("stage %d (%q): %w", i, ref.Name, err)
		}
		p.Stages = append(p.Stages, stage)
	}
	return p, nil
}

// buildStage wraps the registered stage from the inside out: the timeout
// bounds one attempt, the task retries in process, a park retry goes last.
func buildStage(reg *Registry, ref StageRef, opts *BuildOptions) (pipeline.Stage, error) {
	if ref.Name == "" {
		return nil, errors.New("name required")
	}
	s, ok := reg.Get(ref.Name)
	if !ok {
		return nil, errors.New("not in registry")
	}
	if ref.Retries < 0 || ref.RetryDelay < 0 {
		return nil, errors.New("retries and retry_delay must not be negative")
	}
	if ref.Timeout > 0 {
		s = pipeline.WithTimeout(s, ref.Timeout.Duration())
	}
	s = pipeline.Task(ref.Name, s, taskOptions(ref, opts)...)
	if ref.Retry == "" {
		return s, nil
	}
	return parkRetry(s, ref, opts)
}

func taskOptions(ref StageRef, opts *BuildOptions) []pipeline.TaskOption {
	if ref.Retries == 0 {
		return nil
	}
	delay := ref.RetryDelay.Duration()
	if opts != nil && opts.RetryDelay != nil {
		delay = *opts.RetryDelay
	}
	return []pipeline.TaskOption{pipeline.Retries(ref.Retries), pipeline.RetryDelay(delay)}
}

func parkRetry(s pipeline.Stage, ref StageRef, opts *BuildOptions) (pipeline.Stage, error) {
	if opts == nil || opts.RetryPersist == nil {
		return nil, errors.New("retry requires BuildOptions.RetryPersist")
	}
	initial := ref.Initial.Duration()
	if initial <= 0 {
		initial = defaultInitial
	}
	persist := opts.RetryPersist
	var policy pipeline.RetryPolicy
	switch ref.Retry {
	case RetryFixed:
		policy = pipeline.RetryPolicy{Backoff: initial, ShouldRetry: pipeline.IsRetryable}
	case RetryExponential:
		exp := pipeline.ExponentialBackoffPolicy{
			Initial:     initial,
			Multiplier:  2,
			Cap:         ref.Cap.Duration(),
			MaxAttempts: ref.MaxAttempts,
			ShouldRetry: pipeline.IsRetryable,
		}
		if ref.Multiplier > 0 {
			exp.Multiplier = ref.Multiplier
		}
		store := opts.RetryAttemptStore
		if store == nil {
			store = pipeline.NewMemoryAttemptStore()
		}
		persist = pipeline.ExponentialBackoffPersist(exp, store, persist)
		policy = pipeline.RetryPolicyFromExponential(exp)
	default:
		return nil, fmt.Errorf("retry %q not supported (use %q or %q)", ref.Retry, RetryFixed, RetryExponential)
	}
	return pipeline.Retry(s, policy, persist), nil
}

// BuildObserver combines the observers cfg names, in order. It returns nil
// when cfg names none or opts has no ObserverRegistry, leaving the choice to
// the caller's RunOptions.
func BuildObserver(cfg *PipelineConfig, opts *BuildOptions) (pipeline.Observer, error) {
	if cfg == nil || len(cfg.Observers) == 0 || opts == nil || opts.ObserverRegistry == nil {
		return nil, nil
	}
	list := make([]pipeline.Observer, 0, len(cfg.Observers))
	for i, name := range cfg.Observers {
		obs, ok := opts.ObserverRegistry.Get(name)
		if !ok {
			return nil, fmt.Errorf("observer %d: %q not in registry", i, name)
		}
		list = append(list, obs)
	}
	return pipeline.MultiObserver(list...), nil
}

// BuildAllPipelines builds every flow in multi, keyed like multi.Pipelines.
// A flow without a name takes its key. Flows are built in key order.
func BuildAllPipelines(reg *Registry, multi *MultiPipelineConfig, opts *BuildOptions) (map[string]*pipeline.Pipeline, error) {
	if multi == nil {
		return nil, errors.New("MultiPipelineConfig is nil")
	}
	out := make(map[string]*pipeline.Pipeline, len(multi.Pipelines))
	for _, name := range sortedKeys(multi.Pipelines) {
		cfg := multi.Pipelines[name]
		if cfg.Name == "" {
			cfg.Name = name
		}
		p, err := BuildPipeline(reg, &cfg, opts)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

// BuildSequence resolves the flows of seq in built.
func BuildSequence(seq *SequenceConfig, built map[string]*pipeline.Pipeline) (*pipeline.Sequence, error) {
	if seq == nil {
		return nil, errors.New("SequenceConfig is nil")
	}
	s := &pipeline.Sequence{Name: seq.Name}
	for i, name := range seq.Pipelines {
		p, ok := built[name]
		if !ok {
			return nil, fmt.Errorf("sequence %q pipeline %d: %q not built", seq.Name, i, name)
		}
		s.Pipelines = append(s.Pipelines, p)
	}
	return s, nil
}

// BuildAllSequences builds every sequence in multi from the flows in built.
func BuildAllSequences(multi *MultiPipelineConfig, built map[string]*pipeline.Pipeline) (map[string]*pipeline.Sequence, error) {
	out := make(map[string]*pipeline.Sequence)
	if multi == nil {
		return out, nil
	}
	for _, name := range sortedKeys(multi.Sequences) {
		cfg := multi.Sequences[name]
		if cfg.Name == "" {
			cfg.Name = name
		}
		seq, err := BuildSequence(&cfg, built)
		if err != nil {
			return nil, fmt.Errorf("sequence %q: %w", name, err)
		}
		out[name] = seq
	}
	return out, nil
}
