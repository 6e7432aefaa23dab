package transport

import "lightbus/config"

// TransportBuilder constructs concrete transport instances from a
// config.TransportSpec. Each concrete transport package (transport/redis,
// transport/etcd, transport/memory, transport/tcp) provides an
// implementation that knows how to interpret the Options blob for the
// kinds it supports; the host application picks one (or composes several
// behind a small dispatching builder keyed on spec.Name) when wiring a
// bus.Client. Registry.LoadConfig is the only caller.
type TransportBuilder interface {
	BuildRPCTransport(spec config.TransportSpec) (RpcTransport, error)
	BuildResultTransport(spec config.TransportSpec) (ResultTransport, error)
	BuildEventTransport(spec config.TransportSpec) (EventTransport, error)
	BuildSchemaTransport(spec config.TransportSpec) (SchemaTransport, error)
}
