package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineConfig is a flow definition file: the flow name and the registered
// tasks it runs, in order.
type PipelineConfig struct {
	Name      string     `yaml:"name"`
	Source    string     `yaml:"source"`    // BuildOptions.SourceRegistry name; empty means the caller supplies input
	Observers []string   `yaml:"observers"` // BuildOptions.ObserverRegistry names, see BuildObserver
	Stages    []StageRef `yaml:"stages"`
}

// StageRef names one task of a flow. A bare string is the task name; a
// mapping adds retry settings:
//   - augment_data
//   - name: call_unreliable_api
//     retries: 3
//     retry_delay: 1s
//   - name: write_results_to_database
//     retry: exponential
//     timeout: 60s
type StageRef struct {
	Name string `yaml:"name"`

	// Retries and RetryDelay retry the task in process (pipeline.Task).
	Retries    int      `yaml:"retries"`
	RetryDelay Duration `yaml:"retry_delay"`

	// Retry parks the run for a later resume when the task fails with a
	// retryable error: RetryFixed, RetryExponential or empty.
	Retry string `yaml:"retry"`

	// Timeout bounds each attempt of the task.
	Timeout Duration `yaml:"timeout"`

	// Initial is the park delay, the first one for RetryExponential.
	Initial Duration `yaml:"initial"`

	// RetryExponential only: growth per park (default 2), longest delay and
	// number of parks before the run fails.
	Multiplier  float64  `yaml:"multiplier"`
	Cap         Duration `yaml:"cap"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// UnmarshalYAML accepts a task name or a mapping.
func (s *StageRef) UnmarshalYAML(value *yaml.Node) error {
	var nameOnly string
	if err := value.Decode(&nameOnly); err == nil {
		s.Name = nameOnly
		return nil
	}
	type raw StageRef
	return value.Decode((*raw)(s))
}

// Duration is a time.Duration written as "1s" or "5m" in flow files.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the standard time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// MarshalYAML writes the duration as a string ("1s").
func (d Duration) MarshalYAML() (interface{}, error) { return time.Duration(d).String(), nil }

// ParsePipelineConfig parses one flow definition.
func ParsePipelineConfig(data []byte) (*PipelineConfig, error) {
	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadPipelineConfig reads and parses a single flow definition file.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow config: %w", err)
	}
	cfg, err := ParsePipelineConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// MultiPipelineConfig holds several flows keyed by name under "pipelines", and
// optional "sequences" over them.
type MultiPipelineConfig struct {
	Pipelines map[string]PipelineConfig `yaml:"pipelines"`
	Sequences map[string]SequenceConfig `yaml:"sequences"`
}

// SequenceConfig names pipelines (keys of MultiPipelineConfig.Pipelines) to
// run in order with the same payload.
type SequenceConfig struct {
	Name      string   `yaml:"name"`
	Pipelines []string `yaml:"pipelines"`
}

// ParseMultiPipelineConfig parses a file of several flows, e.g.
//
//	pipelines:
//	  extract:
//	    stages:
//	      - name: call_unreliable_api
//	        retries: 3
//	      - augment_data
//	  load:
//	    stages: [write_results_to_database]
//	sequences:
//	  nightly:
//	    pipelines: [extract, load]
func ParseMultiPipelineConfig(data []byte) (*MultiPipelineConfig, error) {
	var cfg MultiPipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
