package strategy

import (
	"sort"
	"sync"

	"github.com/newthinker/tradeflow/internal/core"
)

// Registry holds the variant factories available at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a variant factory under name
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Get retrieves a factory by name
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns every registered variant name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the named variant.
func (r *Registry) Build(name string, params Params) (Variant, error) {
	f, ok := r.Get(name)
	if !ok {
		return nil, core.Errorf(core.ErrStrategyNotFound, "%q", name)
	}
	v, err := f(params)
	if err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, err)
	}
	return v, nil
}
