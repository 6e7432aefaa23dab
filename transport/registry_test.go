package transport

import (
	"context"
	"testing"

	"lightbus/message"
)

type fakeRPCTransport struct{ id string }

func (f *fakeRPCTransport) CallRPC(context.Context, *message.RpcMessage, CallOptions) error {
	return nil
}
func (f *fakeRPCTransport) ConsumeRPCs(context.Context, []string) ([]*message.RpcMessage, error) {
	return nil, nil
}
func (f *fakeRPCTransport) Close() error { return nil }

func TestGetRPCTransportFallsBackToDefault(t *testing.T) {
	r := NewRegistry()
	def := &fakeRPCTransport{id: "default"}
	r.SetRPCTransport(defaultKey, def)

	got, err := r.GetRPCTransport("some.api")
	if err != nil {
		t.Fatalf("GetRPCTransport: %v", err)
	}
	if got != def {
		t.Fatalf("expected fallback to default transport")
	}
}

func TestGetRPCTransportNoneRegisteredErrors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.GetRPCTransport("some.api"); err == nil {
		t.Fatal("expected ErrNoTransport when nothing is registered")
	}
}

func TestGetRPCTransportsGroupedPreservesOrderAndSplits(t *testing.T) {
	r := NewRegistry()
	a := &fakeRPCTransport{id: "a"}
	b := &fakeRPCTransport{id: "b"}
	r.SetRPCTransport("api.one", a)
	r.SetRPCTransport("api.two", b)
	r.SetRPCTransport("api.three", a)

	groups, err := r.GetRPCTransportsGrouped([]string{"api.one", "api.two", "api.three"})
	if err != nil {
		t.Fatalf("GetRPCTransportsGrouped: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].Transport != a || groups[1].Transport != b {
		t.Fatalf("expected transport a to appear before b, matching first-seen order")
	}
	if len(groups[0].APINames) != 2 || groups[0].APINames[0] != "api.one" || groups[0].APINames[1] != "api.three" {
		t.Fatalf("expected transport a to be grouped with [api.one api.three], got %v", groups[0].APINames)
	}
	if len(groups[1].APINames) != 1 || groups[1].APINames[0] != "api.two" {
		t.Fatalf("expected transport b to be grouped with [api.two], got %v", groups[1].APINames)
	}
}

func TestGetRPCTransportsGroupedPropagatesLookupError(t *testing.T) {
	r := NewRegistry()
	if _, err := r.GetRPCTransportsGrouped([]string{"unregistered.api"}); err == nil {
		t.Fatal("expected an error when one of the API names has no transport")
	}
}
