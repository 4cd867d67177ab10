package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrConfigRequired is returned by Build when cfg is nil.
	ErrConfigRequired = errors.New("eventscore: stream config is required")
	// ErrUnknownBackend is returned by Build for unregistered backend names.
	ErrUnknownBackend = errors.New("eventscore: unknown stream backend")
)

// Registry maps backend names to builders and capabilities. Backend packages
// register themselves from init.
type Registry struct {
	mu           sync.RWMutex
	builders     map[string]Builder
	capabilities map[string]Capabilities
}

// DefaultRegistry is the process-wide backend registry.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{
		builders:     make(map[string]Builder),
		capabilities: make(map[string]Capabilities),
	}
}

// Register adds or replaces a backend builder.
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// RegisterWithCapabilities adds a backend builder and describes it.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
	r.capabilities[name] = caps
}

// GetCapabilities returns what is known about a backend. Unknown backends
// yield a zero value carrying only the name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[name]; ok {
		return caps
	}
	return Capabilities{Name: name}
}

// Build creates the backend selected by cfg.GetStreamBackend().
func (r *Registry) Build(ctx context.Context, cfg Config, deps Dependencies) (Stream, error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}
	name := cfg.GetStreamBackend()

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownBackend, name, r.Names())
	}
	return builder(ctx, cfg, deps.withDefaults())
}

// Names lists registered backends in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build creates a stream using the default registry.
func Build(ctx context.Context, cfg Config, deps Dependencies) (Stream, error) {
	return DefaultRegistry.Build(ctx, cfg, deps)
}

// GetCapabilities looks a backend up in the default registry.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}
