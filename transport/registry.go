package transport

import (
	"fmt"
	"sync"

	"lightbus/config"
	"lightbus/lberrors"
)

const defaultKey = "default"

// Registry resolves (api_name, kind) to a concrete transport instance,
// with a reserved "default" key acting as fallback. Grounded on
// registry/registry.go (teacher): that file resolves a service name to
// network instances via discovery; this one resolves an API name to an
// already-constructed transport via direct mapping, since the core spec
// treats transport *selection* (not service discovery) as its job.
type Registry struct {
	mu sync.RWMutex

	rpc    map[string]RpcTransport
	result map[string]ResultTransport
	event  map[string]EventTransport
	sch    SchemaTransport
}

// NewRegistry creates an empty registry. Install transports with
// SetRPCTransport / SetResultTransport / SetEventTransport /
// SetSchemaTransport, or call LoadConfig to install them from
// configuration.
func NewRegistry() *Registry {
	return &Registry{
		rpc:    make(map[string]RpcTransport),
		result: make(map[string]ResultTransport),
		event:  make(map[string]EventTransport),
	}
}

func (r *Registry) SetRPCTransport(apiName string, t RpcTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rpc[apiName] = t
}

func (r *Registry) SetResultTransport(apiName string, t ResultTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result[apiName] = t
}

func (r *Registry) SetEventTransport(apiName string, t EventTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.event[apiName] = t
}

func (r *Registry) SetSchemaTransport(t SchemaTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sch = t
}

// GetRPCTransport returns the transport registered for apiName, else the
// default, else ErrNoTransport.
func (r *Registry) GetRPCTransport(apiName string) (RpcTransport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.rpc[apiName]; ok {
		return t, nil
	}
	if t, ok := r.rpc[defaultKey]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: rpc transport for %q", lberrors.ErrNoTransport, apiName)
}

// GetResultTransport returns the transport registered for apiName, else
// the default, else ErrNoTransport.
func (r *Registry) GetResultTransport(apiName string) (ResultTransport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.result[apiName]; ok {
		return t, nil
	}
	if t, ok := r.result[defaultKey]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: result transport for %q", lberrors.ErrNoTransport, apiName)
}

// GetEventTransport returns the transport registered for apiName, else
// the default, else ErrNoTransport.
func (r *Registry) GetEventTransport(apiName string) (EventTransport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.event[apiName]; ok {
		return t, nil
	}
	if t, ok := r.event[defaultKey]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: event transport for %q", lberrors.ErrNoTransport, apiName)
}

// GetSchemaTransport returns the single registered schema transport.
func (r *Registry) GetSchemaTransport() (SchemaTransport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.sch == nil {
		return nil, fmt.Errorf("%w: schema transport", lberrors.ErrNoTransport)
	}
	return r.sch, nil
}

// RPCGroup pairs a transport with the API names it should serve.
type RPCGroup struct {
	Transport RpcTransport
	APINames  []string
}

// EventGroup pairs a transport with the API names it should serve.
type EventGroup struct {
	Transport EventTransport
	APINames  []string
}

// GetRPCTransportsGrouped groups apiNames by the transport that will
// serve each (since each API may map to a different transport). This
// lets the RPC engine fan out a single logical consume over
// heterogeneous backends while guaranteeing no API appears under more
// than one transport.
func (r *Registry) GetRPCTransportsGrouped(apiNames []string) ([]RPCGroup, error) {
	groups := make(map[RpcTransport][]string)
	order := make([]RpcTransport, 0)

	for _, name := range apiNames {
		t, err := r.GetRPCTransport(name)
		if err != nil {
			return nil, err
		}
		if _, ok := groups[t]; !ok {
			order = append(order, t)
		}
		groups[t] = append(groups[t], name)
	}

	out := make([]RPCGroup, 0, len(order))
	for _, t := range order {
		out = append(out, RPCGroup{Transport: t, APINames: groups[t]})
	}
	return out, nil
}

// GetEventTransportsGrouped is the event-side analogue of
// GetRPCTransportsGrouped.
func (r *Registry) GetEventTransportsGrouped(apiNames []string) ([]EventGroup, error) {
	groups := make(map[EventTransport][]string)
	order := make([]EventTransport, 0)

	for _, name := range apiNames {
		t, err := r.GetEventTransport(name)
		if err != nil {
			return nil, err
		}
		if _, ok := groups[t]; !ok {
			order = append(order, t)
		}
		groups[t] = append(groups[t], name)
	}

	out := make([]EventGroup, 0, len(order))
	for _, t := range order {
		out = append(out, EventGroup{Transport: t, APINames: groups[t]})
	}
	return out, nil
}

// AllTransports returns every distinct transport instance registered
// (rpc, result, event, schema), deduplicated, for coordinated shutdown.
func (r *Registry) AllTransports() []interface{ Close() error } {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[any]bool)
	var out []interface{ Close() error }
	add := func(c interface{ Close() error }) {
		if c == nil {
			return
		}
		if seen[c] {
			return
		}
		seen[c] = true
		out = append(out, c)
	}

	for _, t := range r.rpc {
		add(t)
	}
	for _, t := range r.result {
		add(t)
	}
	for _, t := range r.event {
		add(t)
	}
	add(r.sch)
	return out
}

// LoadConfig installs, for each API in cfg.APIs, the rpc, result and
// event transports that API's config names (keyed by the API name), plus
// the schema transport when bus.schema.transport names one. It never sets
// a "default" entry. build constructs every transport, so each call
// installs fresh instances, replacing whatever was registered under the
// same key.
func (r *Registry) LoadConfig(cfg *config.Config, build TransportBuilder) error {
	for name, apiCfg := range cfg.APIs {
		if apiCfg.RPCTransport != nil {
			t, err := build.BuildRPCTransport(*apiCfg.RPCTransport)
			if err != nil {
				return fmt.Errorf("building rpc transport for %s: %w", name, err)
			}
			r.SetRPCTransport(name, t)
		}
		if apiCfg.ResultTransport != nil {
			t, err := build.BuildResultTransport(*apiCfg.ResultTransport)
			if err != nil {
				return fmt.Errorf("building result transport for %s: %w", name, err)
			}
			r.SetResultTransport(name, t)
		}
		if apiCfg.EventTransport != nil {
			t, err := build.BuildEventTransport(*apiCfg.EventTransport)
			if err != nil {
				return fmt.Errorf("building event transport for %s: %w", name, err)
			}
			r.SetEventTransport(name, t)
		}
	}

	if cfg.Bus.SchemaTransport != nil {
		t, err := build.BuildSchemaTransport(*cfg.Bus.SchemaTransport)
		if err != nil {
			return fmt.Errorf("building schema transport: %w", err)
		}
		r.SetSchemaTransport(t)
	}
	return nil
}
