package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dcshock/etlflow/pipeline"
)

// Registry maps stage names to pipeline stages. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]pipeline.Stage
}

// NewRegistry returns an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{stages: make(map[string]pipeline.Stage)}
}

// Register adds a stage under the given name. Overwrites any existing registration.
func (r *Registry) Register(name string, stage pipeline.Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stages == nil {
		r.stages = make(map[string]pipeline.Stage)
	}
	r.stages[name] = stage
}

// Get returns the stage for name, or nil and false if not found.
func (r *Registry) Get(name string) (pipeline.Stage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stages[name]
	return s, ok
}

// MustGet returns the stage for name, or panics if not found.
func (r *Registry) MustGet(name string) pipeline.Stage {
	s, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("config: stage %q not registered", name))
	}
	return s
}

// Names returns all registered stage names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.stages)
}

// Source produces a flow's initial payload.
type Source = func(ctx context.Context) (interface{}, error)

// SourceRegistry maps source names to flow sources. Safe for concurrent use.
type SourceRegistry struct{ named[Source] }

func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{named[Source]{items: make(map[string]Source)}}
}

// ObserverRegistry maps observer names (e.g. "db", "log", "metrics") to
// observers. Safe for concurrent use.
type ObserverRegistry struct{ named[pipeline.Observer] }

func NewObserverRegistry() *ObserverRegistry {
	return &ObserverRegistry{named[pipeline.Observer]{items: make(map[string]pipeline.Observer)}}
}

type named[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// Register adds v under name, replacing any earlier registration.
func (n *named[T]) Register(name string, v T) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.items == nil {
		n.items = make(map[string]T)
	}
	n.items[name] = v
}

func (n *named[T]) Get(name string) (T, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.items[name]
	return v, ok
}

// Names returns the registered names, sorted.
func (n *named[T]) Names() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return sortedKeys(n.items)
}

func sortedKeys[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
