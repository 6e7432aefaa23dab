// Package transport defines the pluggable channel contracts the bus
// engines depend on (rpc, result, event, schema), plus the registry that
// resolves an API name to a concrete transport instance.
//
// Concrete wire protocols are external collaborators per the core spec;
// this package only defines the contracts. See transport/redis,
// transport/etcd, and transport/tcp for concrete implementations, and
// transport/memory for the in-process fake used by this module's own
// tests.
package transport

import (
	"context"
	"time"

	"lightbus/message"
	"lightbus/schema"
)

// CallOptions configures a single remote RPC call.
type CallOptions struct {
	Timeout time.Duration
}

// FireOptions configures a single event fire.
type FireOptions struct{}

// ListenOptions configures a listener's consumer.
type ListenOptions struct {
	// ConsumerGroup determines whether multiple clients compete for
	// messages (shared group) or each sees every message (distinct
	// groups). A random 4-character name is assigned by the event
	// engine when the caller leaves this empty.
	ConsumerGroup string
}

// EventSelector names one (api_name, event_name) pair a listener wants to
// receive.
type EventSelector struct {
	APIName   string
	EventName string
}

// RpcTransport dispatches outgoing RPC requests and yields incoming ones
// for local consumption.
type RpcTransport interface {
	// CallRPC sends msg to whatever process serves api_name. It does not
	// wait for a reply — that's ResultTransport.ReceiveResult's job.
	CallRPC(ctx context.Context, msg *message.RpcMessage, opts CallOptions) error
	// ConsumeRPCs blocks until at least one RpcMessage is available for
	// one of the given APIs, then returns the batch.
	ConsumeRPCs(ctx context.Context, apiNames []string) ([]*message.RpcMessage, error)
	Close() error
}

// Canceler is optionally implemented by an RpcTransport that can revoke
// an already-queued call. Nothing in this module calls it: on timeout
// rpc.Engine returns ErrTimeout and leaves the request where it is.
// Transports that can't support revocation simply don't implement it.
type Canceler interface {
	Cancel(ctx context.Context, rpcID string) error
}

// ResultTransport delivers RPC results back to the caller that issued
// the request.
type ResultTransport interface {
	// GetReturnPath reserves wherever the reply will be delivered and
	// returns an opaque token the serving side will address the reply
	// to. Reserving the slot synchronously (rather than lazily on first
	// receive) closes the race where a reply arrives before anyone is
	// listening for it.
	GetReturnPath(ctx context.Context, msg *message.RpcMessage) (string, error)
	SendResult(ctx context.Context, rpcMsg *message.RpcMessage, resultMsg *message.ResultMessage, returnPath string) error
	ReceiveResult(ctx context.Context, rpcMsg *message.RpcMessage, returnPath string, opts CallOptions) (*message.ResultMessage, error)
	Close() error
}

// EventConsumer is a two-phase message source: Next yields the next
// message, Ack tells the transport the previously yielded message was
// handled and may be considered delivered.
type EventConsumer interface {
	Next(ctx context.Context) (*message.EventMessage, error)
	Ack(ctx context.Context) error
	Close() error
}

// EventTransport sends events and opens consumers that stream them to
// listeners.
type EventTransport interface {
	SendEvent(ctx context.Context, msg *message.EventMessage, opts FireOptions) error
	Consume(ctx context.Context, listenFor []EventSelector, consumerGroup string, opts ListenOptions) (EventConsumer, error)
	Close() error
}

// SchemaTransport persists and retrieves API schemas with TTL-based
// leases, matching schema.Transport (defined there to avoid an import
// cycle) plus Close for registry-driven lifecycle management.
type SchemaTransport interface {
	schema.Transport
	Close() error
}
