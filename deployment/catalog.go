package deployment

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dcshock/etlflow/config"
	"github.com/dcshock/etlflow/etl"
	"github.com/dcshock/etlflow/pipeline"
)

// Catalog maps flow names to flows. Safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	flows map[string]*pipeline.Pipeline
}

func NewCatalog(flows ...*pipeline.Pipeline) *Catalog {
	c := &Catalog{flows: make(map[string]*pipeline.Pipeline)}
	for _, p := range flows {
		c.Add(p)
	}
	return c
}

// NewETLCatalog returns a catalog holding the ETL flow.
func NewETLCatalog(api etl.Fetcher, w etl.ResultWriter, opts ...etl.FlowOption) *Catalog {
	return NewCatalog(etl.NewFlow(api, w, opts...))
}

// Add registers p under p.Name, replacing a flow of the same name.
func (c *Catalog) Add(p *pipeline.Pipeline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flows[p.Name] = p
}

func (c *Catalog) Get(name string) (*pipeline.Pipeline, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.flows[name]
	return p, ok
}

// Lookup returns the flow or nil; it fits observer.PipelineLookup.
func (c *Catalog) Lookup(name string) *pipeline.Pipeline {
	p, _ := c.Get(name)
	return p
}

// Names returns the flow names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.flows))
	for n := range c.flows {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LoadFlowFile builds the flow defined in a YAML file from the tasks in reg
// and adds it to the catalog.
func (c *Catalog) LoadFlowFile(reg *config.Registry, path string, opts *config.BuildOptions) (*pipeline.Pipeline, error) {
	cfg, err := config.LoadPipelineConfig(path)
	if err != nil {
		return nil, err
	}
	p, err := config.BuildPipeline(reg, cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("build flow %q from %s: %w", cfg.Name, path, err)
	}
	c.Add(p)
	return p, nil
}
