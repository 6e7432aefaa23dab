package plugin

import (
	"context"
	"errors"
	"testing"
)

type recordingPlugin struct {
	NoopPlugin
	calls *[]string
	tag   string
}

func (p recordingPlugin) BeforeRPCCall(context.Context, Context) error {
	*p.calls = append(*p.calls, BeforeRPCCall+p.tag)
	return nil
}

func (p recordingPlugin) AfterRPCCall(context.Context, Context) error {
	*p.calls = append(*p.calls, AfterRPCCall)
	return nil
}

func TestBusFiresInRegistrationOrder(t *testing.T) {
	var calls []string
	bus := NewBus(
		recordingPlugin{calls: &calls, tag: "#1"},
		recordingPlugin{calls: &calls, tag: "#2"},
	)

	if err := bus.Fire(context.Background(), BeforeRPCCall, Context{}); err != nil {
		t.Fatalf("Fire: %v", err)
	}

	if len(calls) != 2 || calls[0] != BeforeRPCCall+"#1" || calls[1] != BeforeRPCCall+"#2" {
		t.Fatalf("expected both plugins to run in registration order, got %v", calls)
	}
}

type failingPlugin struct {
	NoopPlugin
}

func (failingPlugin) BeforeRPCCall(context.Context, Context) error {
	return errors.New("plugin blew up")
}

func TestBusPropagatesPluginError(t *testing.T) {
	var calls []string
	bus := NewBus(failingPlugin{}, recordingPlugin{calls: &calls})

	err := bus.Fire(context.Background(), BeforeRPCCall, Context{})
	if err == nil {
		t.Fatal("expected error from failing plugin to propagate")
	}
	if len(calls) != 0 {
		t.Fatal("expected the second plugin to never run after the first errored")
	}
}

func TestNoopPluginSatisfiesEveryHook(t *testing.T) {
	var p Plugin = NoopPlugin{}
	ctx := context.Background()
	c := Context{}
	hooks := []func() error{
		func() error { return p.BeforeServerStart(ctx, c) },
		func() error { return p.AfterServerStopped(ctx, c) },
		func() error { return p.BeforeRPCCall(ctx, c) },
		func() error { return p.AfterRPCCall(ctx, c) },
		func() error { return p.BeforeRPCExecution(ctx, c) },
		func() error { return p.AfterRPCExecution(ctx, c) },
		func() error { return p.BeforeEventSent(ctx, c) },
		func() error { return p.AfterEventSent(ctx, c) },
		func() error { return p.BeforeEventExecution(ctx, c) },
		func() error { return p.AfterEventExecution(ctx, c) },
	}
	for _, h := range hooks {
		if err := h(); err != nil {
			t.Fatalf("expected noop, got %v", err)
		}
	}
}
