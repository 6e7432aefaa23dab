package tcp

import (
	"context"
	"testing"
	"time"

	"lightbus/message"
	"lightbus/transport"
)

func TestDialerListenerRoundTrip(t *testing.T) {
	listener, err := NewListenerTransport("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewListenerTransport: %v", err)
	}
	defer listener.Close()

	dialer, err := NewDialerTransport([]string{listener.ln.Addr().String()})
	if err != nil {
		t.Fatalf("NewDialerTransport: %v", err)
	}
	defer dialer.Close()

	rpcMsg, err := message.NewRpcMessage("my.api", "echo", map[string]any{"field": "hi"})
	if err != nil {
		t.Fatalf("NewRpcMessage: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	returnPath, err := dialer.GetReturnPath(ctx, rpcMsg)
	if err != nil {
		t.Fatalf("GetReturnPath: %v", err)
	}
	rpcMsg.ReturnPath = returnPath

	if err := dialer.CallRPC(ctx, rpcMsg, transport.CallOptions{}); err != nil {
		t.Fatalf("CallRPC: %v", err)
	}

	batch, err := listener.ConsumeRPCs(ctx, []string{"my.api"})
	if err != nil {
		t.Fatalf("ConsumeRPCs: %v", err)
	}
	if len(batch) != 1 || batch[0].RPCID != rpcMsg.RPCID {
		t.Fatalf("unexpected batch: %+v", batch)
	}

	resultMsg := message.NewResultMessage(rpcMsg.RPCID, "hi back")
	if err := listener.SendResult(ctx, batch[0], resultMsg, batch[0].ReturnPath); err != nil {
		t.Fatalf("SendResult: %v", err)
	}

	got, err := dialer.ReceiveResult(ctx, rpcMsg, returnPath, transport.CallOptions{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("ReceiveResult: %v", err)
	}
	if got.Result != "hi back" {
		t.Fatalf("expected %q, got %v", "hi back", got.Result)
	}
}

func TestDialerReceiveResultTimesOutWithoutReply(t *testing.T) {
	listener, err := NewListenerTransport("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewListenerTransport: %v", err)
	}
	defer listener.Close()

	dialer, err := NewDialerTransport([]string{listener.ln.Addr().String()})
	if err != nil {
		t.Fatalf("NewDialerTransport: %v", err)
	}
	defer dialer.Close()

	rpcMsg, err := message.NewRpcMessage("my.api", "echo", map[string]any{})
	if err != nil {
		t.Fatalf("NewRpcMessage: %v", err)
	}

	ctx := context.Background()
	if _, err := dialer.GetReturnPath(ctx, rpcMsg); err != nil {
		t.Fatalf("GetReturnPath: %v", err)
	}
	if err := dialer.CallRPC(ctx, rpcMsg, transport.CallOptions{}); err != nil {
		t.Fatalf("CallRPC: %v", err)
	}

	if _, err := listener.ConsumeRPCs(ctx, []string{"my.api"}); err != nil {
		t.Fatalf("ConsumeRPCs: %v", err)
	}

	_, err = dialer.ReceiveResult(ctx, rpcMsg, "", transport.CallOptions{Timeout: 20 * time.Millisecond})
	if err == nil {
		t.Fatal("expected a timeout error, got nil")
	}
}

func TestWrongRoleMethodsError(t *testing.T) {
	dialer, err := NewDialerTransport([]string{"127.0.0.1:1"})
	if err != nil {
		t.Fatalf("NewDialerTransport: %v", err)
	}
	defer dialer.Close()

	if _, err := dialer.ConsumeRPCs(context.Background(), nil); err != errWrongRole {
		t.Fatalf("expected errWrongRole, got %v", err)
	}
}
