package module

import "fmt"

// Registry maps module names to their implementations.
type Registry struct {
	modules map[string]Module
}

// NewRegistry builds a Registry from a list of modules, keyed by Name().
func NewRegistry(modules ...Module) *Registry {
	r := &Registry{modules: make(map[string]Module, len(modules))}
	for _, m := range modules {
		r.modules[m.Name()] = m
	}
	return r
}

// Lookup returns the module registered under name.
func (r *Registry) Lookup(name string) (Module, error) {
	m, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("module %q is not registered", name)
	}
	return m, nil
}
