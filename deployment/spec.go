package deployment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dcshock/etlflow/etl"
	"gopkg.in/yaml.v3"
)

// RunnerType selects how a deployment's flow is executed.
type RunnerType string

const (
	// RunnerSubprocess runs the flow in a child process of this binary.
	RunnerSubprocess RunnerType = "subprocess"
	// RunnerInProcess runs the flow in the calling process.
	RunnerInProcess RunnerType = "inprocess"
)

// FlowRunnerSpec is the flow_runner entry: either a bare type name or a
// mapping with a type and extra environment for the run.
//
//	flow_runner: subprocess
//	flow_runner:
//	  type: subprocess
//	  env:
//	    ETLFLOW_LOG_LEVEL: debug
type FlowRunnerSpec struct {
	Type RunnerType        `yaml:"type"`
	Env  map[string]string `yaml:"env,omitempty"`
}

// UnmarshalYAML allows flow_runner to be a string (type only) or a struct.
func (r *FlowRunnerSpec) UnmarshalYAML(value *yaml.Node) error {
	var typeOnly string
	if err := value.Decode(&typeOnly); err == nil {
		r.Type = RunnerType(typeOnly)
		return nil
	}
	type raw FlowRunnerSpec
	return value.Decode((*raw)(r))
}

// Spec describes a deployment: which flow to run, with which parameters and
// how.
type Spec struct {
	Name         string                 `yaml:"name"`
	FlowLocation string                 `yaml:"flow_location,omitempty"` // YAML flow definition; empty means a built-in flow
	FlowName     string                 `yaml:"flow_name"`
	Parameters   map[string]interface{} `yaml:"parameters,omitempty"`
	Tags         []string               `yaml:"tags,omitempty"`
	FlowRunner   FlowRunnerSpec         `yaml:"flow_runner"`
}

// DefaultSpec is the first deployment of the ETL flow.
func DefaultSpec() *Spec {
	return &Spec{
		Name:       "my-first-deployment",
		FlowName:   etl.FlowName,
		Parameters: etl.Parameters("Hello from my first deployment!"),
		Tags:       []string{"ETL"},
		FlowRunner: FlowRunnerSpec{Type: RunnerSubprocess},
	}
}

// ParseSpec parses and validates a deployment spec.
func ParseSpec(data []byte) (*Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSpec reads a deployment spec file. A relative flow_location is
// resolved against the directory of the file.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deployment spec: %w", err)
	}
	s, err := ParseSpec(data)
	if err != nil {
		return nil, fmt.Errorf("deployment spec %s: %w", path, err)
	}
	if s.FlowLocation != "" && !filepath.IsAbs(s.FlowLocation) {
		s.FlowLocation = filepath.Join(filepath.Dir(path), s.FlowLocation)
	}
	return s, nil
}

// Validate reports every problem with the spec at once.
func (s *Spec) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if strings.TrimSpace(s.FlowName) == "" {
		errs = append(errs, errors.New("flow_name is required"))
	}
	switch s.FlowRunner.Type {
	case RunnerSubprocess, RunnerInProcess:
	case "":
		errs = append(errs, errors.New("flow_runner type is required"))
	default:
		errs = append(errs, fmt.Errorf("flow_runner type %q not supported (use %q or %q)", s.FlowRunner.Type, RunnerSubprocess, RunnerInProcess))
	}
	if ext := filepath.Ext(s.FlowLocation); s.FlowLocation != "" && ext != ".yaml" && ext != ".yml" {
		errs = append(errs, fmt.Errorf("flow_location %q must be a YAML flow definition", s.FlowLocation))
	}
	for k := range s.Parameters {
		if k == "" {
			errs = append(errs, errors.New("parameter names must not be empty"))
		}
	}
	for i, tag := range s.Tags {
		if strings.TrimSpace(tag) == "" {
			errs = append(errs, fmt.Errorf("tag %d is empty", i))
		}
	}
	return errors.Join(errs...)
}

// HasTag reports whether the deployment carries tag.
func (s *Spec) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// YAML renders the spec as a deployment file.
func (s *Spec) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}
