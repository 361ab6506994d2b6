package booking

import (
	"fmt"
	"sort"
)

// Registry maps backend identifiers to adapters. It is built once at startup
// from tenant configuration; adapter selection is always by explicit id so a
// misconfigured tenant fails loudly rather than booking against the wrong
// system.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its own id. Registering a duplicate id or a
// nil adapter panics: both are wiring bugs, not runtime conditions.
func (r *Registry) Register(a Adapter) {
	if a == nil {
		panic("booking: cannot register nil adapter")
	}
	id := a.Info().ID
	if id == "" {
		panic("booking: adapter has empty id")
	}
	if _, exists := r.adapters[id]; exists {
		panic(fmt.Sprintf("booking: adapter %q registered twice", id))
	}
	r.adapters[id] = a
}

// Resolve returns the adapter for the backend id. There is no fallback.
func (r *Registry) Resolve(backendID string) (Adapter, error) {
	a, ok := r.adapters[backendID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backendID)
	}
	return a, nil
}

// List returns every registered backend, sorted by id.
func (r *Registry) List() []AdapterInfo {
	out := make([]AdapterInfo, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
