// Package redis implements transport.RpcTransport, transport.ResultTransport,
// and transport.EventTransport on top of Redis: lists for RPC request
// queues, Pub/Sub for one-shot result delivery, and Streams with
// consumer groups for at-least-once event fan-out.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"lightbus/message"
	"lightbus/transport"
)

const (
	rpcKeyPrefix      = "lightbus:rpc:"
	resultChanPrefix  = "lightbus:result:"
	eventStreamPrefix = "lightbus:event:"

	consumeBlockTimeout = 2 * time.Second
)

func rpcKey(apiName string) string {
	return rpcKeyPrefix + apiName
}

func resultChannel(rpcID string) string {
	return resultChanPrefix + rpcID
}

func eventStream(apiName, eventName string) string {
	return eventStreamPrefix + apiName + "." + eventName
}

// RPCTransport dispatches RPC requests through Redis lists: CallRPC
// pushes, ConsumeRPCs blocking-pops across every list for the given APIs.
type RPCTransport struct {
	client *goredis.Client
}

// NewRPCTransport wraps an already-configured go-redis client.
func NewRPCTransport(client *goredis.Client) *RPCTransport {
	return &RPCTransport{client: client}
}

func (t *RPCTransport) CallRPC(ctx context.Context, msg *message.RpcMessage, opts transport.CallOptions) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redis: marshal rpc message: %w", err)
	}
	return t.client.LPush(ctx, rpcKey(msg.APIName), body).Err()
}

func (t *RPCTransport) ConsumeRPCs(ctx context.Context, apiNames []string) ([]*message.RpcMessage, error) {
	keys := make([]string, len(apiNames))
	for i, name := range apiNames {
		keys[i] = rpcKey(name)
	}

	res, err := t.client.BRPop(ctx, consumeBlockTimeout, keys...).Result()
	if err == goredis.Nil {
		// Timed out with nothing available; the rpc engine's consume
		// loop just calls us again, so looping here too keeps the
		// caller from seeing a spurious empty-batch error each tick.
		return t.ConsumeRPCs(ctx, apiNames)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: brpop: %w", err)
	}

	// res is [key, value].
	var rpcMsg message.RpcMessage
	if err := json.Unmarshal([]byte(res[1]), &rpcMsg); err != nil {
		return nil, fmt.Errorf("redis: unmarshal rpc message: %w", err)
	}
	return []*message.RpcMessage{&rpcMsg}, nil
}

func (t *RPCTransport) Close() error {
	return t.client.Close()
}

// ResultTransport delivers RPC replies over Redis Pub/Sub: one channel
// per rpc_id, subscribed synchronously in GetReturnPath so no reply
// published between the subscribe call and ReceiveResult's first read
// is ever lost.
type ResultTransport struct {
	client *goredis.Client

	mu   sync.Mutex
	subs map[string]*goredis.PubSub
}

// NewResultTransport wraps an already-configured go-redis client.
func NewResultTransport(client *goredis.Client) *ResultTransport {
	return &ResultTransport{client: client, subs: make(map[string]*goredis.PubSub)}
}

func (t *ResultTransport) GetReturnPath(ctx context.Context, msg *message.RpcMessage) (string, error) {
	channel := resultChannel(msg.RPCID)
	sub := t.client.Subscribe(ctx, channel)
	// Receive blocks until the subscription is confirmed by the server,
	// the same "reserve before the caller can possibly need it"
	// ordering every other transport in this module follows.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return "", fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	t.mu.Lock()
	t.subs[msg.RPCID] = sub
	t.mu.Unlock()
	return channel, nil
}

func (t *ResultTransport) SendResult(ctx context.Context, rpcMsg *message.RpcMessage, resultMsg *message.ResultMessage, returnPath string) error {
	body, err := json.Marshal(resultMsg)
	if err != nil {
		return fmt.Errorf("redis: marshal result message: %w", err)
	}
	return t.client.Publish(ctx, returnPath, body).Err()
}

func (t *ResultTransport) ReceiveResult(ctx context.Context, rpcMsg *message.RpcMessage, returnPath string, opts transport.CallOptions) (*message.ResultMessage, error) {
	t.mu.Lock()
	sub, ok := t.subs[rpcMsg.RPCID]
	delete(t.subs, rpcMsg.RPCID)
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("redis: no reservation for rpc_id %s, call GetReturnPath first", rpcMsg.RPCID)
	}
	defer sub.Close()

	waitCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	select {
	case redisMsg, ok := <-sub.Channel():
		if !ok {
			return nil, fmt.Errorf("redis: subscription for rpc_id %s closed without a reply", rpcMsg.RPCID)
		}
		var resultMsg message.ResultMessage
		if err := json.Unmarshal([]byte(redisMsg.Payload), &resultMsg); err != nil {
			return nil, fmt.Errorf("redis: unmarshal result message: %w", err)
		}
		return &resultMsg, nil
	case <-waitCtx.Done():
		return nil, waitCtx.Err()
	}
}

func (t *ResultTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, sub := range t.subs {
		sub.Close()
		delete(t.subs, id)
	}
	return t.client.Close()
}

// EventTransport fans events out through Redis Streams: every (api,
// event) pair gets its own stream, and consumer groups give every
// distinct group name its own at-least-once cursor over the stream.
type EventTransport struct {
	client *goredis.Client
}

// NewEventTransport wraps an already-configured go-redis client.
func NewEventTransport(client *goredis.Client) *EventTransport {
	return &EventTransport{client: client}
}

func (t *EventTransport) SendEvent(ctx context.Context, msg *message.EventMessage, opts transport.FireOptions) error {
	kwargsJSON, err := json.Marshal(msg.Kwargs())
	if err != nil {
		return fmt.Errorf("redis: marshal event kwargs: %w", err)
	}
	stream := eventStream(msg.APIName, msg.EventName)
	return t.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"kwargs": kwargsJSON},
	}).Err()
}

func (t *EventTransport) Consume(ctx context.Context, listenFor []transport.EventSelector, consumerGroup string, opts transport.ListenOptions) (transport.EventConsumer, error) {
	streams := make([]string, len(listenFor))
	for i, sel := range listenFor {
		stream := eventStream(sel.APIName, sel.EventName)
		streams[i] = stream
		// $ means "only entries added after the group is created";
		// MkStream creates the stream itself if it doesn't exist yet so
		// a listener can start before any event has ever fired.
		err := t.client.XGroupCreateMkStream(ctx, stream, consumerGroup, "$").Err()
		if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
			return nil, fmt.Errorf("redis: create consumer group %s on %s: %w", consumerGroup, stream, err)
		}
	}

	return &eventConsumer{
		client:        t.client,
		streams:       streams,
		consumerGroup: consumerGroup,
		consumerName:  "lightbus-" + consumerGroup,
		selectors:     listenFor,
	}, nil
}

func (t *EventTransport) Close() error {
	return t.client.Close()
}

type eventConsumer struct {
	client        *goredis.Client
	streams       []string
	consumerGroup string
	consumerName  string
	selectors     []transport.EventSelector

	pendingStream string
	pendingID     string
}

// Next blocks until the next event arrives on any of the consumer's
// streams, via XReadGroup's ">" id (new, unclaimed entries only).
func (c *eventConsumer) Next(ctx context.Context) (*message.EventMessage, error) {
	args := make([]string, 0, len(c.streams)*2)
	args = append(args, c.streams...)
	for range c.streams {
		args = append(args, ">")
	}

	res, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    c.consumerGroup,
		Consumer: c.consumerName,
		Streams:  args,
		Count:    1,
		Block:    consumeBlockTimeout,
	}).Result()
	if err == goredis.Nil {
		return c.Next(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: xreadgroup: %w", err)
	}

	stream := res[0]
	entry := stream.Messages[0]
	c.pendingStream = stream.Stream
	c.pendingID = entry.ID

	apiName, eventName := c.selectorFor(stream.Stream)
	kwargsRaw, _ := entry.Values["kwargs"].(string)
	var kwargs map[string]any
	if kwargsRaw != "" {
		if err := json.Unmarshal([]byte(kwargsRaw), &kwargs); err != nil {
			return nil, fmt.Errorf("redis: unmarshal event kwargs: %w", err)
		}
	}
	return message.NewEventMessage(apiName, eventName, kwargs), nil
}

func (c *eventConsumer) selectorFor(stream string) (string, string) {
	for _, sel := range c.selectors {
		if eventStream(sel.APIName, sel.EventName) == stream {
			return sel.APIName, sel.EventName
		}
	}
	return "", ""
}

// Ack acknowledges the most recently yielded entry so it won't be
// redelivered to this consumer group.
func (c *eventConsumer) Ack(ctx context.Context) error {
	if c.pendingStream == "" {
		return nil
	}
	err := c.client.XAck(ctx, c.pendingStream, c.consumerGroup, c.pendingID).Err()
	c.pendingStream, c.pendingID = "", ""
	return err
}

func (c *eventConsumer) Close() error {
	return nil
}
