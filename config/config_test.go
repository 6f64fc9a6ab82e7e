package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dcshock/etlflow/pipeline"
	"gopkg.in/yaml.v3"
)

type record = map[string]interface{}

// etlRegistry registers the three ETL tasks on plain records. written
// collects what the write task received.
func etlRegistry(written *[]record) *Registry {
	reg := NewRegistry()
	reg.Register("call_unreliable_api", func(context.Context, interface{}) (interface{}, error) {
		return record{"data": 42}, nil
	})
	reg.Register("augment_data", pipeline.Transform(func(ctx context.Context, r record) (record, error) {
		msg, ok := pipeline.StringParam(ctx, "msg")
		if !ok {
			return nil, errors.New(`"msg" is required`)
		}
		return record{"data": r["data"], "message": msg}, nil
	}))
	reg.Register("write_results_to_database", pipeline.Transform(func(_ context.Context, r record) (string, error) {
		*written = append(*written, r)
		return "Success!", nil
	}))
	return reg
}

func etlParams(msg string) map[string]interface{} { return map[string]interface{}{"msg": msg} }

func TestRegistry_RegisterGet(t *testing.T) {
	var written []record
	reg := etlRegistry(&written)
	if s, ok := reg.Get("augment_data"); !ok || s == nil {
		t.Fatal("Get(augment_data) should return the task")
	}
	if _, ok := reg.Get("send_email"); ok {
		t.Error("Get(send_email) should return false")
	}
	want := []string{"augment_data", "call_unreliable_api", "write_results_to_database"}
	if got := reg.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names: got %v", got)
	}
}

func TestRegistry_MustGet_Panic(t *testing.T) {
	reg := NewRegistry()
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustGet of an unregistered task should panic")
		}
	}()
	reg.MustGet("call_unreliable_api")
}

func TestParsePipelineConfig_ETLFlow(t *testing.T) {
	cfg, err := ParsePipelineConfig([]byte(`
name: Previously unreliable pipeline
stages:
  - name: call_unreliable_api
    retries: 3
    retry_delay: 1s
  - augment_data
  - write_results_to_database
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "Previously unreliable pipeline" || len(cfg.Stages) != 3 {
		t.Fatalf("cfg: %+v", cfg)
	}
	call := cfg.Stages[0]
	if call.Name != "call_unreliable_api" || call.Retries != 3 || call.RetryDelay.Duration() != time.Second {
		t.Errorf("call stage: %+v", call)
	}
	if cfg.Stages[1].Name != "augment_data" || cfg.Stages[2].Name != "write_results_to_database" {
		t.Errorf("stage names: %v", cfg.Stages)
	}
}

func TestParsePipelineConfig_ParkRetry(t *testing.T) {
	cfg, err := ParsePipelineConfig([]byte(`
name: Parked unreliable pipeline
stages:
  - name: call_unreliable_api
    retry: exponential
    timeout: 10s
    initial: 1s
    multiplier: 3
    cap: 1m
    max_attempts: 4
  - augment_data
`))
	if err != nil {
		t.Fatal(err)
	}
	call := cfg.Stages[0]
	if call.Retry != RetryExponential || call.MaxAttempts != 4 || call.Multiplier != 3 {
		t.Errorf("call stage: %+v", call)
	}
	if call.Timeout.Duration() != 10*time.Second || call.Initial.Duration() != time.Second || call.Cap.Duration() != time.Minute {
		t.Errorf("durations: %v %v %v", call.Timeout, call.Initial, call.Cap)
	}
}

func TestBuildPipeline_ETL(t *testing.T) {
	var written []record
	cfg := &PipelineConfig{
		Name:   "Previously unreliable pipeline",
		Stages: []StageRef{{Name: "call_unreliable_api"}, {Name: "augment_data"}, {Name: "write_results_to_database"}},
	}
	p, err := BuildPipeline(etlRegistry(&written), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != cfg.Name || len(p.Stages) != 3 {
		t.Fatalf("pipeline: %+v", p)
	}
	out, err := p.Run(context.Background(), &pipeline.RunOptions{Parameters: etlParams("hi")})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Success!" {
		t.Errorf("got %v", out)
	}
	if want := []record{{"data": 42, "message": "hi"}}; !reflect.DeepEqual(written, want) {
		t.Errorf("written: %v", written)
	}
}

// Every configured stage fails as a task named after its registry entry,
// whether or not it has retries.
func TestBuildPipeline_EveryStageIsNamedTask(t *testing.T) {
	diskFull := errors.New("disk full")
	for i, name := range []string{"call_unreliable_api", "augment_data", "write_results_to_database"} {
		t.Run(name, func(t *testing.T) {
			var written []record
			reg := etlRegistry(&written)
			reg.Register(name, func(context.Context, interface{}) (interface{}, error) { return nil, diskFull })
			cfg := &PipelineConfig{Name: "etl", Stages: []StageRef{
				{Name: "call_unreliable_api"}, {Name: "augment_data"}, {Name: "write_results_to_database"},
			}}
			p, err := BuildPipeline(reg, cfg, nil)
			if err != nil {
				t.Fatal(err)
			}
			_, err = p.Run(context.Background(), &pipeline.RunOptions{Parameters: etlParams("hi")})
			var taskErr *pipeline.TaskError
			if !errors.As(err, &taskErr) {
				t.Fatalf("expected TaskError, got %v", err)
			}
			if taskErr.Task != name || taskErr.Attempts != 1 || !errors.Is(err, diskFull) {
				t.Errorf("task error: %+v", taskErr)
			}
			if !strings.HasPrefix(err.Error(), "stage "+string(rune('0'+i))+": task ") {
				t.Errorf("error %q does not name stage %d", err, i)
			}
		})
	}
}

func TestBuildPipeline_MissingParameterNamesTask(t *testing.T) {
	var written []record
	cfg := &PipelineConfig{Name: "etl", Stages: []StageRef{{Name: "call_unreliable_api"}, {Name: "augment_data"}}}
	p, err := BuildPipeline(etlRegistry(&written), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Run(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), `task "augment_data" failed after 1 attempt(s)`) {
		t.Errorf("got %v", err)
	}
}

func TestBuildPipeline_Invalid(t *testing.T) {
	var written []record
	reg := etlRegistry(&written)
	tests := []struct {
		name string
		cfg  *PipelineConfig
		opts *BuildOptions
		want string
	}{
		{"nil config", nil, nil, "config is nil"},
		{"unknown stage", &PipelineConfig{Stages: []StageRef{{Name: "augment_data"}, {Name: "send_email"}}}, nil, `stage 1 ("send_email"): not in registry`},
		{"empty name", &PipelineConfig{Stages: []StageRef{{}}}, nil, "name required"},
		{"negative retries", &PipelineConfig{Stages: []StageRef{{Name: "call_unreliable_api", Retries: -1}}}, nil, "must not be negative"},
		{"negative delay", &PipelineConfig{Stages: []StageRef{{Name: "call_unreliable_api", Retries: 1, RetryDelay: Duration(-time.Second)}}}, nil, "must not be negative"},
		{"retry without persist", &PipelineConfig{Stages: []StageRef{{Name: "call_unreliable_api", Retry: RetryExponential}}}, nil, "RetryPersist"},
		{"unknown retry kind", &PipelineConfig{Stages: []StageRef{{Name: "call_unreliable_api", Retry: "linear"}}}, &BuildOptions{RetryPersist: func(context.Context, pipeline.ParkedRun) error { return nil }}, `retry "linear" not supported`},
		{"source without registry", &PipelineConfig{Source: "api"}, nil, `source "api": no SourceRegistry`},
		{"unregistered source", &PipelineConfig{Source: "api"}, &BuildOptions{SourceRegistry: NewSourceRegistry()}, `source "api" not in registry`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildPipeline(reg, tt.cfg, tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestBuildPipeline_WithSource(t *testing.T) {
	var written []record
	sources := NewSourceRegistry()
	sources.Register("api", func(context.Context) (interface{}, error) { return record{"data": 7}, nil })
	cfg := &PipelineConfig{Name: "sourced", Source: "api", Stages: []StageRef{{Name: "augment_data"}, {Name: "write_results_to_database"}}}
	p, err := BuildPipeline(etlRegistry(&written), cfg, &BuildOptions{SourceRegistry: sources})
	if err != nil {
		t.Fatal(err)
	}
	if p.Source == nil {
		t.Fatal("pipeline Source should be set")
	}
	if _, err := p.Run(context.Background(), &pipeline.RunOptions{Parameters: etlParams("from source")}); err != nil {
		t.Fatal(err)
	}
	if want := []record{{"data": 7, "message": "from source"}}; !reflect.DeepEqual(written, want) {
		t.Errorf("written: %v", written)
	}
}

func TestBuildPipeline_InlineRetries(t *testing.T) {
	var written []record
	reg := etlRegistry(&written)
	calls := 0
	reg.Register("call_unreliable_api", func(context.Context, interface{}) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("service failed")
		}
		return record{"data": 42}, nil
	})
	cfg, err := ParsePipelineConfig([]byte(`
name: etl
stages:
  - name: call_unreliable_api
    retries: 3
    retry_delay: 1ms
  - augment_data
  - write_results_to_database
`))
	if err != nil {
		t.Fatal(err)
	}
	p, err := BuildPipeline(reg, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Run(context.Background(), &pipeline.RunOptions{Parameters: etlParams("retried")})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Success!" || calls != 3 || len(written) != 1 {
		t.Errorf("out=%v calls=%d written=%v", out, calls, written)
	}
}

func TestBuildPipeline_InlineRetriesExhausted(t *testing.T) {
	var written []record
	reg := etlRegistry(&written)
	failed := errors.New("service failed")
	reg.Register("call_unreliable_api", func(context.Context, interface{}) (interface{}, error) { return nil, failed })
	cfg := &PipelineConfig{Name: "etl", Stages: []StageRef{{Name: "call_unreliable_api", Retries: 3}, {Name: "write_results_to_database"}}}
	p, err := BuildPipeline(reg, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Run(context.Background(), nil)
	var taskErr *pipeline.TaskError
	if !errors.As(err, &taskErr) {
		t.Fatalf("expected TaskError, got %v", err)
	}
	if taskErr.Task != "call_unreliable_api" || taskErr.Attempts != 4 || !errors.Is(err, failed) {
		t.Errorf("task error: %+v", taskErr)
	}
	if len(written) != 0 {
		t.Errorf("written after failure: %v", written)
	}
}

// A command line retry delay replaces the one in the file.
func TestBuildPipeline_RetryDelayOverride(t *testing.T) {
	var written []record
	reg := etlRegistry(&written)
	calls := 0
	reg.Register("call_unreliable_api", func(context.Context, interface{}) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("service failed")
		}
		return record{"data": 42}, nil
	})
	cfg := &PipelineConfig{Name: "etl", Stages: []StageRef{
		{Name: "call_unreliable_api", Retries: 3, RetryDelay: Duration(time.Hour)},
		{Name: "augment_data"},
	}}
	override := time.Millisecond
	p, err := BuildPipeline(reg, cfg, &BuildOptions{RetryDelay: &override})
	if err != nil {
		t.Fatal(err)
	}
	obs := &countingObserver{}
	out, err := p.Run(context.Background(), &pipeline.RunOptions{Observer: obs, Parameters: etlParams("fast")})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, record{"data": 42, "message": "fast"}) {
		t.Errorf("got %v", out)
	}
	if want := []time.Duration{time.Millisecond}; !reflect.DeepEqual(obs.delays, want) {
		t.Errorf("retry delays: got %v, want %v", obs.delays, want)
	}

	// Without the override the file wins.
	p, err = BuildPipeline(reg, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	calls = 0
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Run(ctx, &pipeline.RunOptions{Parameters: etlParams("slow")}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the hour long delay to outlast ctx, got %v", err)
	}
}

// A park retry on a later stage saves that stage's index and the record it
// was given, so a resume calls it again.
func TestBuildPipeline_ParkRetry(t *testing.T) {
	var parked []pipeline.ParkedRun
	persist := func(_ context.Context, p pipeline.ParkedRun) error {
		parked = append(parked, p)
		return nil
	}
	var written []record
	reg := etlRegistry(&written)
	reg.Register("write_results_to_database", func(context.Context, interface{}) (interface{}, error) {
		return nil, pipeline.RetryableErr(errors.New("database locked"))
	})
	cfg := &PipelineConfig{Name: "Parked unreliable pipeline", Stages: []StageRef{
		{Name: "call_unreliable_api"},
		{Name: "augment_data"},
		{Name: "write_results_to_database", Retry: RetryFixed, Initial: Duration(time.Minute)},
	}}
	p, err := BuildPipeline(reg, cfg, &BuildOptions{RetryPersist: persist})
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	_, err = p.Run(context.Background(), &pipeline.RunOptions{Observer: &mockObserver{}, RunID: "run-1", Parameters: etlParams("later")})
	if !pipeline.IsParked(err) {
		t.Fatalf("expected ErrParked, got %v", err)
	}
	if len(parked) != 1 {
		t.Fatalf("parked %d times", len(parked))
	}
	got := parked[0]
	if got.RunID != "run-1" || got.PipelineName != cfg.Name || got.NextStageIndex != 2 {
		t.Errorf("parked run: %+v", got.RunState)
	}
	if !reflect.DeepEqual(got.InputForNextStage, record{"data": 42, "message": "later"}) {
		t.Errorf("input: %v", got.InputForNextStage)
	}
	if got.Parameters["msg"] != "later" {
		t.Errorf("parameters: %v", got.Parameters)
	}
	if got.ResumeAt.Before(start.Add(time.Minute)) {
		t.Errorf("ResumeAt %v is before the fixed delay", got.ResumeAt)
	}
}

// Exponential park retries stop once max_attempts parks have been saved.
func TestBuildPipeline_ExponentialRetryExhausted(t *testing.T) {
	var parked []pipeline.ParkedRun
	persist := func(_ context.Context, p pipeline.ParkedRun) error {
		parked = append(parked, p)
		return nil
	}
	var written []record
	reg := etlRegistry(&written)
	reg.Register("call_unreliable_api", func(context.Context, interface{}) (interface{}, error) {
		return nil, pipeline.RetryableErr(errors.New("service failed"))
	})
	cfg := &PipelineConfig{Name: "etl", Stages: []StageRef{
		{Name: "call_unreliable_api", Retry: RetryExponential, Initial: Duration(time.Second), MaxAttempts: 2},
	}}
	p, err := BuildPipeline(reg, cfg, &BuildOptions{RetryPersist: persist, RetryAttemptStore: pipeline.NewMemoryAttemptStore()})
	if err != nil {
		t.Fatal(err)
	}
	opts := &pipeline.RunOptions{Observer: &mockObserver{}, RunID: "run-exp"}
	for i := 0; i < 2; i++ {
		if _, err := p.Run(context.Background(), opts); !pipeline.IsParked(err) {
			t.Fatalf("run %d: expected ErrParked, got %v", i, err)
		}
	}
	_, err = p.Run(context.Background(), opts)
	if !errors.Is(err, pipeline.ErrAttemptsExhausted) || pipeline.IsParked(err) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if len(parked) != 2 {
		t.Fatalf("parked %d times", len(parked))
	}
	if d0, d1 := parked[0].ResumeAt, parked[1].ResumeAt; !d1.After(d0.Add(500 * time.Millisecond)) {
		t.Errorf("second park at %v should back off past the first at %v", d1, d0)
	}
}

type mockObserver struct{}

func (m *mockObserver) BeforePipeline(ctx context.Context, runID, name string, payload interface{}) error {
	return nil
}
func (m *mockObserver) AfterPipeline(ctx context.Context, runID string, result interface{}, err error) error {
	return nil
}
func (m *mockObserver) BeforeStage(ctx context.Context, runID string, stageIndex int, input interface{}) error {
	return nil
}
func (m *mockObserver) AfterStage(ctx context.Context, runID string, stageIndex int, input, output interface{}, stageErr error, duration time.Duration) error {
	return nil
}

type countingObserver struct {
	mockObserver
	stages int
	delays []time.Duration
}

func (c *countingObserver) BeforeStage(ctx context.Context, runID string, stageIndex int, input interface{}) error {
	c.stages++
	return nil
}

func (c *countingObserver) OnRetry(_ context.Context, _ string, _ int, _ string, _ int, _ error, delay time.Duration) {
	c.delays = append(c.delays, delay)
}

func TestBuildObserver(t *testing.T) {
	observers := NewObserverRegistry()
	logs, metrics := &countingObserver{}, &countingObserver{}
	observers.Register("logs", logs)
	observers.Register("metrics", metrics)
	if got := observers.Names(); !reflect.DeepEqual(got, []string{"logs", "metrics"}) {
		t.Errorf("names: %v", got)
	}

	var written []record
	opts := &BuildOptions{ObserverRegistry: observers}
	cfg := &PipelineConfig{Name: "etl", Observers: []string{"logs", "metrics"}, Stages: []StageRef{{Name: "call_unreliable_api"}, {Name: "augment_data"}}}
	obs, err := BuildObserver(cfg, opts)
	if err != nil {
		t.Fatal(err)
	}
	p, err := BuildPipeline(etlRegistry(&written), cfg, opts)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Run(context.Background(), &pipeline.RunOptions{Observer: obs, Parameters: etlParams("seen")}); err != nil {
		t.Fatal(err)
	}
	if logs.stages != 2 || metrics.stages != 2 {
		t.Errorf("stages seen: logs=%d metrics=%d", logs.stages, metrics.stages)
	}

	cfg.Observers = []string{"tracing"}
	if _, err := BuildObserver(cfg, opts); err == nil {
		t.Error("expected error for unregistered observer")
	}
	if obs, err := BuildObserver(&PipelineConfig{}, opts); obs != nil || err != nil {
		t.Errorf("no observers: %v %v", obs, err)
	}
}

func TestParseMultiPipelineConfig(t *testing.T) {
	multi, err := ParseMultiPipelineConfig([]byte(`
pipelines:
  extract:
    name: extract
    stages: [call_unreliable_api, augment_data]
  load:
    stages: [write_results_to_database]
`))
	if err != nil {
		t.Fatal(err)
	}
	if len(multi.Pipelines) != 2 {
		t.Fatalf("pipelines: got %d", len(multi.Pipelines))
	}
	if multi.Pipelines["extract"].Name != "extract" || len(multi.Pipelines["extract"].Stages) != 2 {
		t.Errorf("extract: %+v", multi.Pipelines["extract"])
	}
	if multi.Pipelines["load"].Name != "" {
		t.Errorf("load name should be empty in raw config: %q", multi.Pipelines["load"].Name)
	}
}

func TestBuildAllPipelines(t *testing.T) {
	var written []record
	multi, err := ParseMultiPipelineConfig([]byte(`
pipelines:
  etl:
    name: Previously unreliable pipeline
    stages: [call_unreliable_api, augment_data, write_results_to_database]
  fetch:
    stages: [call_unreliable_api]
`))
	if err != nil {
		t.Fatal(err)
	}
	built, err := BuildAllPipelines(etlRegistry(&written), multi, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(built) != 2 {
		t.Fatalf("got %d pipelines", len(built))
	}
	if p := built["fetch"]; p == nil || p.Name != "fetch" {
		t.Errorf("fetch pipeline: %+v", p)
	}
	out, err := built["etl"].Run(context.Background(), &pipeline.RunOptions{Parameters: etlParams("all")})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Success!" || len(written) != 1 {
		t.Errorf("out=%v written=%v", out, written)
	}

	multi.Pipelines["broken"] = PipelineConfig{Stages: []StageRef{{Name: "send_email"}}}
	if _, err := BuildAllPipelines(etlRegistry(&written), multi, nil); err == nil || !strings.Contains(err.Error(), `pipeline "broken"`) {
		t.Errorf("got %v", err)
	}
}

func TestBuildAllSequences(t *testing.T) {
	var written []record
	reg := etlRegistry(&written)
	reg.Register("validate", pipeline.Validate[record](func(r record) bool { return r["data"] != nil }, "no data"))
	multi, err := ParseMultiPipelineConfig([]byte(`
pipelines:
  check:
    stages: [validate]
  enrich:
    stages: [augment_data]
sequences:
  checked:
    pipelines: [check, enrich]
  broken:
    pipelines: [check, load]
`))
	if err != nil {
		t.Fatal(err)
	}
	built, err := BuildAllPipelines(reg, multi, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := BuildAllSequences(multi, built); err == nil {
		t.Fatal("expected error for unknown pipeline in sequence")
	}
	delete(multi.Sequences, "broken")
	seqs, err := BuildAllSequences(multi, built)
	if err != nil {
		t.Fatal(err)
	}
	seq := seqs["checked"]
	if seq == nil || seq.Name != "checked" || len(seq.Pipelines) != 2 {
		t.Fatalf("sequence: %+v", seq)
	}
	// A sequence hands every flow the same payload.
	out, err := seq.Run(context.Background(), record{"data": 42}, &pipeline.RunOptions{Parameters: etlParams("seq")})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, record{"data": 42, "message": "seq"}) {
		t.Errorf("got %v", out)
	}
	if _, err := seq.Run(context.Background(), record{}, nil); err == nil || !strings.Contains(err.Error(), "no data") {
		t.Errorf("got %v", err)
	}
}

func TestLoadPipelineConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etl.yaml")
	if err := os.WriteFile(path, []byte("name: Previously unreliable pipeline\nstages: [call_unreliable_api]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadPipelineConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "Previously unreliable pipeline" || len(cfg.Stages) != 1 {
		t.Errorf("cfg: %+v", cfg)
	}
	if _, err := LoadPipelineConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDuration_YAML(t *testing.T) {
	var ref StageRef
	if err := yaml.Unmarshal([]byte("name: call_unreliable_api\nretry_delay: 1s\n"), &ref); err != nil {
		t.Fatal(err)
	}
	if ref.RetryDelay.Duration() != time.Second {
		t.Errorf("retry_delay: got %v", ref.RetryDelay.Duration())
	}
	if err := yaml.Unmarshal([]byte("retry_delay: soon\n"), &ref); err == nil {
		t.Error("expected error for a bad duration")
	}

	data, err := yaml.Marshal(StageRef{Name: "call_unreliable_api", RetryDelay: Duration(1500 * time.Millisecond)})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "retry_delay: 1.5s") {
		t.Errorf("marshalled: %s", data)
	}
}
