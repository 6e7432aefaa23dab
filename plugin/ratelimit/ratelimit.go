// Package ratelimit implements a plugin.Plugin enforcing a token-bucket
// limit per API on rpc_call and event_sent, grounded on
// middleware/rate_limit_middleware.go: the limiter is constructed once
// per API (never per-call — a fresh bucket every call would defeat the
// whole point) and short-circuits with an error rather than blocking.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"lightbus/message"
	"lightbus/plugin"
)

// Plugin rate-limits before_rpc_call and before_event_sent per API name.
type Plugin struct {
	plugin.NoopPlugin

	r     rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a rate-limit plugin: r tokens refill per second, burst caps
// the bucket size. Every distinct API name gets its own limiter,
// lazily created on first use.
func New(r float64, burst int) *Plugin {
	return &Plugin{
		r:        rate.Limit(r),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *Plugin) Name() string { return "ratelimit" }

func (p *Plugin) limiterFor(apiName string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[apiName]
	if !ok {
		l = rate.NewLimiter(p.r, p.burst)
		p.limiters[apiName] = l
	}
	return l
}

func (p *Plugin) BeforeRPCCall(_ context.Context, c plugin.Context) error {
	msg, ok := c["rpc_message"].(*message.RpcMessage)
	if !ok {
		return nil
	}
	if !p.limiterFor(msg.APIName).Allow() {
		return fmt.Errorf("rate limit exceeded for %s", msg.APIName)
	}
	return nil
}

func (p *Plugin) BeforeEventSent(_ context.Context, c plugin.Context) error {
	msg, ok := c["event_message"].(*message.EventMessage)
	if !ok {
		return nil
	}
	if !p.limiterFor(msg.APIName).Allow() {
		return fmt.Errorf("rate limit exceeded for %s", msg.APIName)
	}
	return nil
}
