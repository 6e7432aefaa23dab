// Package plugin implements the ordered lifecycle-hook fan-out that the
// RPC and Event engines sequence around every message phase.
//
// Go interfaces don't support partial implementation, so every Plugin
// implements every hook method; NoopPlugin is embedded by plugins that
// only care about a subset, so overriding just those hooks is enough.
package plugin

import (
	"context"
)

// Hook names fired around rpc calls, event delivery, and server lifecycle.
const (
	BeforeServerStart    = "before_server_start"
	AfterServerStopped   = "after_server_stopped"
	BeforeRPCCall        = "before_rpc_call"
	AfterRPCCall         = "after_rpc_call"
	BeforeRPCExecution   = "before_rpc_execution"
	AfterRPCExecution    = "after_rpc_execution"
	BeforeEventSent      = "before_event_sent"
	AfterEventSent       = "after_event_sent"
	BeforeEventExecution = "before_event_execution"
	AfterEventExecution  = "after_event_execution"
)

// Context carries whatever payload is relevant to the firing hook
// (rpc_message, result_message, event_message, bus_client...). Callers
// agree on key names per hook.
type Context map[string]any

// Plugin is implemented by every lifecycle plugin. Each method is called
// for its corresponding hook; returning an error aborts the remaining
// plugins in the chain and propagates to the engine that fired the hook.
type Plugin interface {
	Name() string
	BeforeServerStart(ctx context.Context, c Context) error
	AfterServerStopped(ctx context.Context, c Context) error
	BeforeRPCCall(ctx context.Context, c Context) error
	AfterRPCCall(ctx context.Context, c Context) error
	BeforeRPCExecution(ctx context.Context, c Context) error
	AfterRPCExecution(ctx context.Context, c Context) error
	BeforeEventSent(ctx context.Context, c Context) error
	AfterEventSent(ctx context.Context, c Context) error
	BeforeEventExecution(ctx context.Context, c Context) error
	AfterEventExecution(ctx context.Context, c Context) error
}

// NoopPlugin implements every Plugin method as a no-op. Embed it in a
// plugin struct and override only the hooks you care about.
type NoopPlugin struct{}

func (NoopPlugin) Name() string                                        { return "noop" }
func (NoopPlugin) BeforeServerStart(context.Context, Context) error    { return nil }
func (NoopPlugin) AfterServerStopped(context.Context, Context) error   { return nil }
func (NoopPlugin) BeforeRPCCall(context.Context, Context) error        { return nil }
func (NoopPlugin) AfterRPCCall(context.Context, Context) error         { return nil }
func (NoopPlugin) BeforeRPCExecution(context.Context, Context) error   { return nil }
func (NoopPlugin) AfterRPCExecution(context.Context, Context) error    { return nil }
func (NoopPlugin) BeforeEventSent(context.Context, Context) error      { return nil }
func (NoopPlugin) AfterEventSent(context.Context, Context) error       { return nil }
func (NoopPlugin) BeforeEventExecution(context.Context, Context) error { return nil }
func (NoopPlugin) AfterEventExecution(context.Context, Context) error  { return nil }

// Bus is an ordered set of registered plugins. Fire awaits each plugin's
// implementation of the named hook in registration order.
type Bus struct {
	plugins []Plugin
}

// NewBus creates a plugin hook bus with the given plugins, fired in the
// order given.
func NewBus(plugins ...Plugin) *Bus {
	return &Bus{plugins: plugins}
}

// Register appends a plugin to the end of the fan-out order.
func (b *Bus) Register(p Plugin) {
	b.plugins = append(b.plugins, p)
}

// Plugins returns the registered plugins in fan-out order.
func (b *Bus) Plugins() []Plugin {
	return b.plugins
}

// Fire calls the named hook on every registered plugin in order. An error
// from any plugin stops the fan-out and is returned to the caller
// (exceptions from a plugin propagate, they are never swallowed).
func (b *Bus) Fire(ctx context.Context, hook string, c Context) error {
	for _, p := range b.plugins {
		if err := dispatch(ctx, p, hook, c); err != nil {
			return err
		}
	}
	return nil
}

func dispatch(ctx context.Context, p Plugin, hook string, c Context) error {
	switch hook {
	case BeforeServerStart:
		return p.BeforeServerStart(ctx, c)
	case AfterServerStopped:
		return p.AfterServerStopped(ctx, c)
	case BeforeRPCCall:
		return p.BeforeRPCCall(ctx, c)
	case AfterRPCCall:
		return p.AfterRPCCall(ctx, c)
	case BeforeRPCExecution:
		return p.BeforeRPCExecution(ctx, c)
	case AfterRPCExecution:
		return p.AfterRPCExecution(ctx, c)
	case BeforeEventSent:
		return p.BeforeEventSent(ctx, c)
	case AfterEventSent:
		return p.AfterEventSent(ctx, c)
	case BeforeEventExecution:
		return p.BeforeEventExecution(ctx, c)
	case AfterEventExecution:
		return p.AfterEventExecution(ctx, c)
	default:
		return nil
	}
}
