package api

import (
	"sort"
	"sync"

	"lightbus/lberrors"
)

// Registry is the process-wide mapping from API name to the API object
// served by this process. It is carried explicitly on the BusClient
// rather than as a package-level global, so tests can construct isolated
// clients without cross-contaminating registrations (see
// "Process-global registries" in the design notes).
type Registry struct {
	mu   sync.RWMutex
	apis map[string]API
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{apis: make(map[string]API)}
}

// Add registers an API. Registering the same name twice replaces the
// previous registration.
func (r *Registry) Add(a API) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apis[a.Name()] = a
}

// Get looks up an API by name. Only APIs present here may fire events or
// have their RPCs consumed locally.
func (r *Registry) Get(name string) (API, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.apis[name]
	if !ok {
		return nil, lberrors.ErrUnknownAPI
	}
	return a, nil
}

// All returns every registered API, sorted by name for deterministic
// iteration (logging, schema loading order, etc.).
func (r *Registry) All() []API {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]API, 0, len(r.apis))
	for _, a := range r.apis {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns the registered API names, sorted.
func (r *Registry) Names() []string {
	all := r.All()
	names := make([]string, len(all))
	for i, a := range all {
		names[i] = a.Name()
	}
	return names
}
