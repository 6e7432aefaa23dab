package memory

import (
	"context"
	"testing"
	"time"

	"lightbus/message"
	"lightbus/schema"
	"lightbus/transport"
)

func TestRPCTransportRoundTrip(t *testing.T) {
	tr := NewRPCTransport()
	msg, err := message.NewRpcMessage("my.dummy", "my_proc", map[string]any{"field": "x"})
	if err != nil {
		t.Fatalf("NewRpcMessage: %v", err)
	}

	ctx := context.Background()
	if err := tr.CallRPC(ctx, msg, transport.CallOptions{}); err != nil {
		t.Fatalf("CallRPC: %v", err)
	}

	got, err := tr.ConsumeRPCs(ctx, []string{"my.dummy"})
	if err != nil {
		t.Fatalf("ConsumeRPCs: %v", err)
	}
	if len(got) != 1 || got[0].RPCID != msg.RPCID {
		t.Fatalf("expected to receive the enqueued message back, got %v", got)
	}
}

func TestResultTransportReserveThenSend(t *testing.T) {
	tr := NewResultTransport()
	msg, _ := message.NewRpcMessage("my.dummy", "my_proc", nil)

	ctx := context.Background()
	path, err := tr.GetReturnPath(ctx, msg)
	if err != nil {
		t.Fatalf("GetReturnPath: %v", err)
	}

	result := message.NewResultMessage(msg.RPCID, "value: x")
	if err := tr.SendResult(ctx, msg, result, path); err != nil {
		t.Fatalf("SendResult: %v", err)
	}

	got, err := tr.ReceiveResult(ctx, msg, path, transport.CallOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("ReceiveResult: %v", err)
	}
	if got.Result != "value: x" {
		t.Fatalf("expected result %q, got %v", "value: x", got.Result)
	}
}

func TestResultTransportReceiveTimesOutWithoutSend(t *testing.T) {
	tr := NewResultTransport()
	msg, _ := message.NewRpcMessage("my.dummy", "my_proc", nil)

	ctx := context.Background()
	path, err := tr.GetReturnPath(ctx, msg)
	if err != nil {
		t.Fatalf("GetReturnPath: %v", err)
	}

	_, err = tr.ReceiveResult(ctx, msg, path, transport.CallOptions{Timeout: 10 * time.Millisecond})
	if err == nil {
		t.Fatal("expected a timeout error when nothing ever sends a result")
	}
}

func TestEventTransportDeliversToMatchingConsumer(t *testing.T) {
	tr := NewEventTransport()
	ctx := context.Background()

	consumer, err := tr.Consume(ctx, []transport.EventSelector{{APIName: "my.dummy", EventName: "my_event"}}, "group-a", transport.ListenOptions{})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	defer consumer.Close()

	evt := message.NewEventMessage("my.dummy", "my_event", map[string]any{"field": "Hello! 😎"})
	if err := tr.SendEvent(ctx, evt, transport.FireOptions{}); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	got, err := consumer.Next(recvCtx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.Kwargs()["field"] != "Hello! 😎" {
		t.Fatalf("expected delivered event to carry the original kwargs, got %v", got.Kwargs())
	}
	if err := consumer.Ack(ctx); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestEventTransportSeparatesConsumerGroups(t *testing.T) {
	tr := NewEventTransport()
	ctx := context.Background()
	sel := []transport.EventSelector{{APIName: "my.dummy", EventName: "my_event"}}

	c1, _ := tr.Consume(ctx, sel, "group-a", transport.ListenOptions{})
	c2, _ := tr.Consume(ctx, sel, "group-b", transport.ListenOptions{})

	evt := message.NewEventMessage("my.dummy", "my_event", nil)
	if err := tr.SendEvent(ctx, evt, transport.FireOptions{}); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if _, err := c1.Next(recvCtx); err != nil {
		t.Fatalf("group-a did not receive the event: %v", err)
	}
	if _, err := c2.Next(recvCtx); err != nil {
		t.Fatalf("group-b did not receive its own copy of the event: %v", err)
	}
}

func TestSchemaTransportStoreLoad(t *testing.T) {
	tr := NewSchemaTransport()
	ctx := context.Background()

	loaded, err := tr.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected empty pool before any Store, got %v", loaded)
	}

	if err := tr.Store(ctx, "my.dummy", schema.APISchema{}, time.Minute); err != nil {
		t.Fatalf("Store: %v", err)
	}
	loaded, err = tr.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := loaded["my.dummy"]; !ok {
		t.Fatalf("expected my.dummy in pool after Store, got %v", loaded)
	}
}
