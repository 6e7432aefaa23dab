// Package memory implements in-process RPC, result, event, and schema
// transports backed by Go channels and maps. It exists so this module's
// own tests (and any host application's unit tests) can exercise the
// engines without a real Redis or etcd process, mirroring how the
// original project's test suite stands up an in-memory bus for its
// fixtures.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lightbus/message"
	"lightbus/schema"
	"lightbus/transport"
)

// RPCTransport is a process-local RpcTransport: CallRPC enqueues onto a
// channel keyed by API name, ConsumeRPCs drains whichever of the
// requested APIs has a pending message.
type RPCTransport struct {
	mu     sync.Mutex
	queues map[string]chan *message.RpcMessage
}

func NewRPCTransport() *RPCTransport {
	return &RPCTransport{queues: make(map[string]chan *message.RpcMessage)}
}

func (t *RPCTransport) queueFor(apiName string) chan *message.RpcMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[apiName]
	if !ok {
		q = make(chan *message.RpcMessage, 64)
		t.queues[apiName] = q
	}
	return q
}

func (t *RPCTransport) CallRPC(ctx context.Context, msg *message.RpcMessage, _ transport.CallOptions) error {
	select {
	case t.queueFor(msg.APIName) <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeRPCs blocks on whichever of apiNames' queues produces first,
// returning a single-message batch — adequate for an in-process fake
// where batching brings no efficiency gain.
func (t *RPCTransport) ConsumeRPCs(ctx context.Context, apiNames []string) ([]*message.RpcMessage, error) {
	cases := make([]chan *message.RpcMessage, len(apiNames))
	for i, name := range apiNames {
		cases[i] = t.queueFor(name)
	}

	for {
		for _, q := range cases {
			select {
			case m := <-q:
				return []*message.RpcMessage{m}, nil
			default:
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (t *RPCTransport) Close() error { return nil }

// ResultTransport delivers results through a channel reserved per rpc_id
// at GetReturnPath time, closing the race between a reply arriving
// before the caller starts listening.
type ResultTransport struct {
	mu   sync.Mutex
	subs map[string]chan *message.ResultMessage
}

func NewResultTransport() *ResultTransport {
	return &ResultTransport{subs: make(map[string]chan *message.ResultMessage)}
}

func (t *ResultTransport) GetReturnPath(_ context.Context, msg *message.RpcMessage) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	path := "memory://" + msg.RPCID
	if _, ok := t.subs[path]; !ok {
		t.subs[path] = make(chan *message.ResultMessage, 1)
	}
	return path, nil
}

func (t *ResultTransport) SendResult(ctx context.Context, _ *message.RpcMessage, resultMsg *message.ResultMessage, returnPath string) error {
	t.mu.Lock()
	ch, ok := t.subs[returnPath]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("memory result transport: no reservation for %s", returnPath)
	}
	select {
	case ch <- resultMsg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *ResultTransport) ReceiveResult(ctx context.Context, _ *message.RpcMessage, returnPath string, opts transport.CallOptions) (*message.ResultMessage, error) {
	t.mu.Lock()
	ch, ok := t.subs[returnPath]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("memory result transport: no reservation for %s", returnPath)
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	select {
	case m := <-ch:
		t.mu.Lock()
		delete(t.subs, returnPath)
		t.mu.Unlock()
		return m, nil
	case <-waitCtx.Done():
		return nil, waitCtx.Err()
	}
}

func (t *ResultTransport) Close() error { return nil }

// EventTransport fans out events to every open consumer whose selector
// set matches, partitioned by consumer group the way Redis Streams
// consumer groups behave: each group sees every event exactly once,
// distinct groups each see their own copy.
type EventTransport struct {
	mu        sync.Mutex
	consumers map[string][]*eventConsumer // keyed by consumer group
}

func NewEventTransport() *EventTransport {
	return &EventTransport{consumers: make(map[string][]*eventConsumer)}
}

func (t *EventTransport) SendEvent(ctx context.Context, msg *message.EventMessage, _ transport.FireOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, group := range t.consumers {
		// One consumer per group is picked round-robin-free (first
		// interested listener) since every member of a group competes
		// for the same stream entries.
		for _, c := range group {
			if !c.wants(msg.APIName, msg.EventName) {
				continue
			}
			select {
			case c.ch <- msg:
			case <-ctx.Done():
				return ctx.Err()
			default:
				go func(c *eventConsumer, msg *message.EventMessage) { c.ch <- msg }(c, msg)
			}
			break
		}
	}
	return nil
}

func (t *EventTransport) Consume(_ context.Context, listenFor []transport.EventSelector, consumerGroup string, _ transport.ListenOptions) (transport.EventConsumer, error) {
	c := &eventConsumer{
		selectors: listenFor,
		ch:        make(chan *message.EventMessage, 64),
	}
	t.mu.Lock()
	t.consumers[consumerGroup] = append(t.consumers[consumerGroup], c)
	t.mu.Unlock()
	return c, nil
}

func (t *EventTransport) Close() error { return nil }

type eventConsumer struct {
	selectors []transport.EventSelector
	ch        chan *message.EventMessage
	pending   *message.EventMessage
}

func (c *eventConsumer) wants(apiName, eventName string) bool {
	for _, s := range c.selectors {
		if s.APIName == apiName && s.EventName == eventName {
			return true
		}
	}
	return false
}

func (c *eventConsumer) Next(ctx context.Context) (*message.EventMessage, error) {
	select {
	case m := <-c.ch:
		c.pending = m
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack is a no-op: the in-memory transport has no redelivery semantics, so
// there's nothing to acknowledge beyond clearing the pending marker.
func (c *eventConsumer) Ack(context.Context) error {
	c.pending = nil
	return nil
}

func (c *eventConsumer) Close() error { return nil }

// SchemaTransport stores/loads APISchema pools in a plain map, ignoring
// TTL expiry — adequate for unit tests which run well inside any
// sensible TTL.
type SchemaTransport struct {
	mu    sync.RWMutex
	store map[string]schema.APISchema
}

func NewSchemaTransport() *SchemaTransport {
	return &SchemaTransport{store: make(map[string]schema.APISchema)}
}

func (t *SchemaTransport) Store(_ context.Context, apiName string, s schema.APISchema, _ time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.store[apiName] = s
	return nil
}

func (t *SchemaTransport) Ping(ctx context.Context, apiName string, s schema.APISchema, ttl time.Duration) error {
	return t.Store(ctx, apiName, s, ttl)
}

func (t *SchemaTransport) Load(_ context.Context) (map[string]schema.APISchema, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]schema.APISchema, len(t.store))
	for k, v := range t.store {
		out[k] = v
	}
	return out, nil
}

func (t *SchemaTransport) Close() error { return nil }
