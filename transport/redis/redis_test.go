package redis

import (
	"testing"

	"lightbus/transport"
)

func TestKeyNamingIsStableAndDistinct(t *testing.T) {
	if rpcKey("my.dummy") != "lightbus:rpc:my.dummy" {
		t.Fatalf("unexpected rpc key: %s", rpcKey("my.dummy"))
	}
	if resultChannel("abc123") != "lightbus:result:abc123" {
		t.Fatalf("unexpected result channel: %s", resultChannel("abc123"))
	}
	if eventStream("my.dummy", "my_event") != "lightbus:event:my.dummy.my_event" {
		t.Fatalf("unexpected event stream: %s", eventStream("my.dummy", "my_event"))
	}
}

func TestEventConsumerSelectorForMatchesByStream(t *testing.T) {
	c := &eventConsumer{
		selectors: []transport.EventSelector{
			{APIName: "my.dummy", EventName: "my_event"},
			{APIName: "other.api", EventName: "other_event"},
		},
	}

	api, event := c.selectorFor(eventStream("other.api", "other_event"))
	if api != "other.api" || event != "other_event" {
		t.Fatalf("expected other.api/other_event, got %s/%s", api, event)
	}

	api, event = c.selectorFor("lightbus:event:unknown.stream")
	if api != "" || event != "" {
		t.Fatalf("expected empty selector for unknown stream, got %s/%s", api, event)
	}
}
