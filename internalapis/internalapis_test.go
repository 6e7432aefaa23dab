package internalapis

import (
	"context"
	"testing"
	"time"
)

func TestStateAPIPing(t *testing.T) {
	a, err := NewStateAPI(time.Now(), func() []string { return []string{"my.dummy"} })
	if err != nil {
		t.Fatalf("NewStateAPI: %v", err)
	}

	got, err := a.(interface {
		Call(context.Context, string, map[string]any) (any, error)
	}).Call(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("Call ping: %v", err)
	}
	if got != "pong" {
		t.Fatalf("expected pong, got %v", got)
	}
}

func TestMetricsAPISnapshot(t *testing.T) {
	counters := &Counters{}
	counters.RPCCallsHandled.Add(3)

	a, err := NewMetricsAPI(counters)
	if err != nil {
		t.Fatalf("NewMetricsAPI: %v", err)
	}

	got, err := a.(interface {
		Call(context.Context, string, map[string]any) (any, error)
	}).Call(context.Background(), "snapshot", nil)
	if err != nil {
		t.Fatalf("Call snapshot: %v", err)
	}
	snapshot, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected a map snapshot, got %T", got)
	}
	if snapshot["rpc_calls_handled"] != int64(3) {
		t.Fatalf("expected rpc_calls_handled=3, got %v", snapshot["rpc_calls_handled"])
	}
}
