package ratelimit

import (
	"context"
	"testing"

	"lightbus/message"
	"lightbus/plugin"
)

func TestBeforeRPCCallRejectsBeyondBurst(t *testing.T) {
	p := New(1, 1)
	msg, err := message.NewRpcMessage("my.dummy", "my_proc", nil)
	if err != nil {
		t.Fatalf("NewRpcMessage: %v", err)
	}

	c := plugin.Context{"rpc_message": msg}
	if err := p.BeforeRPCCall(context.Background(), c); err != nil {
		t.Fatalf("expected the first call within burst to be allowed, got %v", err)
	}
	if err := p.BeforeRPCCall(context.Background(), c); err == nil {
		t.Fatal("expected the second call to exceed burst=1 and be rejected")
	}
}

func TestLimitersAreIndependentPerAPI(t *testing.T) {
	p := New(1, 1)
	msgA, _ := message.NewRpcMessage("api.a", "proc", nil)
	msgB, _ := message.NewRpcMessage("api.b", "proc", nil)

	if err := p.BeforeRPCCall(context.Background(), plugin.Context{"rpc_message": msgA}); err != nil {
		t.Fatalf("api.a first call: %v", err)
	}
	if err := p.BeforeRPCCall(context.Background(), plugin.Context{"rpc_message": msgB}); err != nil {
		t.Fatalf("api.b first call should have its own bucket: %v", err)
	}
}
