package stepflow

import (
	"sort"
	"sync"
)

// Registry holds workflow definitions by name. Definitions are registered
// explicitly at process start; there is no runtime discovery.
type Registry struct {
	mutex       sync.RWMutex
	definitions map[string]*Definition
}

// NewRegistry creates an empty definition registry.
func NewRegistry() *Registry {
	return &Registry{definitions: map[string]*Definition{}}
}

// Register adds a definition. Re-registering a name is rejected so a live
// definition can never be swapped out from under running executions.
func (r *Registry) Register(def *Definition) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.definitions[def.Name()]; exists {
		return NewDefinitionError("workflow %q is already registered", def.Name())
	}
	r.definitions[def.Name()] = def
	return nil
}

// Get returns a registered definition by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	def, ok := r.definitions[name]
	return def, ok
}

// Names returns the registered workflow names, sorted.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
