// Package wiring provides the DefaultBuilder a host application hands to
// transport.Registry.LoadConfig: it dispatches each config.TransportSpec
// to the concrete transport package named by spec.Name ("memory",
// "redis", "etcd", "tcp"), keeping transport/registry.go itself ignorant
// of any specific wire protocol.
package wiring

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"lightbus/config"
	"lightbus/transport"
	"lightbus/transport/etcd"
	"lightbus/transport/memory"
	"lightbus/transport/redis"
	"lightbus/transport/tcp"
)

// DefaultBuilder implements transport.TransportBuilder over every
// concrete transport package this module ships.
type DefaultBuilder struct{}

func (DefaultBuilder) BuildRPCTransport(spec config.TransportSpec) (transport.RpcTransport, error) {
	switch spec.Name {
	case "memory":
		return memory.NewRPCTransport(), nil
	case "redis":
		client, err := redisClient(spec)
		if err != nil {
			return nil, err
		}
		return redis.NewRPCTransport(client), nil
	case "tcp":
		return buildTCPTransport(spec)
	default:
		return nil, fmt.Errorf("wiring: unknown rpc transport %q", spec.Name)
	}
}

func (DefaultBuilder) BuildResultTransport(spec config.TransportSpec) (transport.ResultTransport, error) {
	switch spec.Name {
	case "memory":
		return memory.NewResultTransport(), nil
	case "redis":
		client, err := redisClient(spec)
		if err != nil {
			return nil, err
		}
		return redis.NewResultTransport(client), nil
	case "tcp":
		return buildTCPTransport(spec)
	default:
		return nil, fmt.Errorf("wiring: unknown result transport %q", spec.Name)
	}
}

func (DefaultBuilder) BuildEventTransport(spec config.TransportSpec) (transport.EventTransport, error) {
	switch spec.Name {
	case "memory":
		return memory.NewEventTransport(), nil
	case "redis":
		client, err := redisClient(spec)
		if err != nil {
			return nil, err
		}
		return redis.NewEventTransport(client), nil
	default:
		return nil, fmt.Errorf("wiring: unknown event transport %q (tcp has no event transport, see DESIGN.md)", spec.Name)
	}
}

func (DefaultBuilder) BuildSchemaTransport(spec config.TransportSpec) (transport.SchemaTransport, error) {
	switch spec.Name {
	case "memory":
		return memory.NewSchemaTransport(), nil
	case "etcd":
		endpoints, err := stringSlice(spec, "endpoints")
		if err != nil {
			return nil, err
		}
		return etcd.New(endpoints)
	default:
		return nil, fmt.Errorf("wiring: unknown schema transport %q", spec.Name)
	}
}

func redisClient(spec config.TransportSpec) (*goredis.Client, error) {
	addr, _ := spec.Options["addr"].(string)
	if addr == "" {
		addr = "localhost:6379"
	}
	db, _ := spec.Options["db"].(int)
	return goredis.NewClient(&goredis.Options{Addr: addr, DB: db}), nil
}

func buildTCPTransport(spec config.TransportSpec) (*tcp.Transport, error) {
	role, _ := spec.Options["role"].(string)
	switch role {
	case "listener":
		addr, _ := spec.Options["addr"].(string)
		if addr == "" {
			return nil, fmt.Errorf("wiring: tcp listener transport requires options.addr")
		}
		return tcp.NewListenerTransport(addr)
	case "dialer", "":
		addresses, err := stringSlice(spec, "addresses")
		if err != nil {
			return nil, err
		}
		return tcp.NewDialerTransport(addresses)
	default:
		return nil, fmt.Errorf("wiring: unknown tcp transport role %q", role)
	}
}

func stringSlice(spec config.TransportSpec, key string) ([]string, error) {
	raw, ok := spec.Options[key].([]any)
	if !ok {
		return nil, fmt.Errorf("wiring: %s transport requires options.%s", spec.Name, key)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("wiring: options.%s must be a list of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}
