// Package logging implements a plugin.Plugin that logs RPC calls and
// event sends with duration and error information, using zap.Logger for
// structured output consistent with the rest of the stack.
package logging

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"lightbus/message"
	"lightbus/plugin"
)

// Plugin logs before/after rpc_call and before/after event_sent hooks.
// It embeds plugin.NoopPlugin so it only needs to override the four
// hooks it cares about.
type Plugin struct {
	plugin.NoopPlugin
	log *zap.Logger

	// start tracks per-rpc_id call start times across the before/after
	// pair, since the two hooks fire as separate calls rather than
	// wrapping one another the way a middleware closure would. Guarded
	// by mu since concurrent calls race on the same map.
	mu    sync.Mutex
	start map[string]time.Time
}

// New builds a logging plugin writing through log.
func New(log *zap.Logger) *Plugin {
	return &Plugin{log: log, start: make(map[string]time.Time)}
}

func (p *Plugin) Name() string { return "logging" }

func (p *Plugin) BeforeRPCCall(_ context.Context, c plugin.Context) error {
	msg, ok := c["rpc_message"].(*message.RpcMessage)
	if !ok {
		return nil
	}
	p.mu.Lock()
	p.start[msg.RPCID] = time.Now()
	p.mu.Unlock()
	return nil
}

func (p *Plugin) AfterRPCCall(_ context.Context, c plugin.Context) error {
	msg, ok := c["rpc_message"].(*message.RpcMessage)
	if !ok {
		return nil
	}
	p.mu.Lock()
	started, ok := p.start[msg.RPCID]
	delete(p.start, msg.RPCID)
	p.mu.Unlock()
	duration := time.Duration(0)
	if ok {
		duration = time.Since(started)
	}

	fields := []zap.Field{
		zap.String("canonical_name", msg.CanonicalName()),
		zap.Duration("duration", duration),
	}
	if result, ok := c["result_message"].(*message.ResultMessage); ok && result.Error {
		fields = append(fields, zap.Bool("error", true), zap.Any("result", result.Result))
		p.log.Warn("rpc call failed", fields...)
		return nil
	}
	p.log.Info("rpc call completed", fields...)
	return nil
}

func (p *Plugin) BeforeEventSent(_ context.Context, c plugin.Context) error {
	msg, ok := c["event_message"].(*message.EventMessage)
	if !ok {
		return nil
	}
	p.log.Debug("firing event", zap.String("canonical_name", msg.CanonicalName()))
	return nil
}

func (p *Plugin) AfterEventSent(_ context.Context, c plugin.Context) error {
	msg, ok := c["event_message"].(*message.EventMessage)
	if !ok {
		return nil
	}
	p.log.Info("event sent", zap.String("canonical_name", msg.CanonicalName()))
	return nil
}
