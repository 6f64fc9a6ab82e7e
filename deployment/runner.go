package deployment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/dcshock/etlflow/pipeline"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrFlowNotFound is returned when a deployment names a flow the runner does
// not know.
var ErrFlowNotFound = errors.New("flow not found")

// FlowRunner executes the flow of a deployment.
type FlowRunner interface {
	RunFlow(ctx context.Context, spec *Spec) (interface{}, error)
}

// InProcessRunner runs flows from a Catalog in the calling process.
type InProcessRunner struct {
	Catalog  *Catalog
	Observer pipeline.Observer
	Log      logrus.FieldLogger
}

// RunFlow runs the flow with the deployment parameters under a new run ID.
func (r *InProcessRunner) RunFlow(ctx context.Context, spec *Spec) (interface{}, error) {
	p, ok := r.Catalog.Get(spec.FlowName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFlowNotFound, spec.FlowName)
	}
	runID := uuid.NewString()
	log := r.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{
		"deployment": spec.Name,
		"flow":       spec.FlowName,
		"run_id":     runID,
		"tags":       spec.Tags,
	}).Info("running deployment")
	return p.Run(ctx, &pipeline.RunOptions{
		Observer:   r.Observer,
		RunID:      runID,
		Parameters: spec.Parameters,
	})
}

// SubprocessRunner re-executes a binary that has the etlflow CLI as
//
//	<Executable> <Args...> flow run --name <flow> --param k=v ...
//
// and streams its output. The flow result is the last line the child
// writes to stdout.
type SubprocessRunner struct {
	Executable string // defaults to the running binary
	Args       []string
	Env        []string // added to the current environment
	Stdout     io.Writer
	Stderr     io.Writer
}

func (r *SubprocessRunner) RunFlow(ctx context.Context, spec *Spec) (interface{}, error) {
	exe := r.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("subprocess runner: %w", err)
		}
	}
	args, err := FlowRunArgs(spec)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, exe, append(append([]string{}, r.Args...), args...)...)
	cmd.Env = append(os.Environ(), r.Env...)
	for k, v := range spec.FlowRunner.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if r.Stdout != nil {
		cmd.Stdout = io.MultiWriter(&stdout, r.Stdout)
	}
	cmd.Stderr = r.Stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("flow %q in subprocess: %w", spec.FlowName, err)
	}
	return lastLine(stdout.String()), nil
}

// FlowRunArgs returns the CLI arguments that run the deployment's flow.
// String parameters are passed with --param, other values as JSON with
// --param-json. Parameters are sorted by name.
func FlowRunArgs(spec *Spec) ([]string, error) {
	args := []string{"flow", "run", "--name", spec.FlowName}
	if spec.FlowLocation != "" {
		args = append(args, "--file", spec.FlowLocation)
	}
	keys := make([]string, 0, len(spec.Parameters))
	for k := range spec.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := spec.Parameters[k].(string); ok {
			args = append(args, "--param", k+"="+s)
			continue
		}
		data, err := json.Marshal(spec.Parameters[k])
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", k, err)
		}
		args = append(args, "--param-json", k+"="+string(data))
	}
	return args, nil
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\r\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Runners picks a FlowRunner by the deployment's runner type.
type Runners struct {
	InProcess  FlowRunner
	Subprocess FlowRunner
}

func (r Runners) RunFlow(ctx context.Context, spec *Spec) (interface{}, error) {
	var runner FlowRunner
	switch spec.FlowRunner.Type {
	case RunnerInProcess:
		runner = r.InProcess
	case RunnerSubprocess:
		runner = r.Subprocess
	}
	if runner == nil {
		return nil, fmt.Errorf("no runner for flow_runner type %q", spec.FlowRunner.Type)
	}
	return runner.RunFlow(ctx, spec)
}

var (
	_ FlowRunner = (*InProcessRunner)(nil)
	_ FlowRunner = (*SubprocessRunner)(nil)
	_ FlowRunner = Runners{}
)
