package wiring

import (
	"testing"

	"lightbus/config"
	"lightbus/transport"
)

func TestBuildRPCTransportMemory(t *testing.T) {
	var b DefaultBuilder
	tr, err := b.BuildRPCTransport(config.TransportSpec{Name: "memory"})
	if err != nil {
		t.Fatalf("BuildRPCTransport: %v", err)
	}
	defer tr.Close()
}

func TestBuildRPCTransportUnknownNameErrors(t *testing.T) {
	var b DefaultBuilder
	if _, err := b.BuildRPCTransport(config.TransportSpec{Name: "carrier-pigeon"}); err == nil {
		t.Fatal("expected an error for an unknown transport name, got nil")
	}
}

func TestBuildEventTransportRejectsTCP(t *testing.T) {
	var b DefaultBuilder
	if _, err := b.BuildEventTransport(config.TransportSpec{Name: "tcp"}); err == nil {
		t.Fatal("expected an error, tcp has no event transport")
	}
}

func TestBuildTCPDialerTransportRequiresAddresses(t *testing.T) {
	var b DefaultBuilder
	_, err := b.BuildRPCTransport(config.TransportSpec{Name: "tcp", Options: map[string]any{"role": "dialer"}})
	if err == nil {
		t.Fatal("expected an error when options.addresses is missing")
	}
}

func TestBuildTCPListenerTransport(t *testing.T) {
	var b DefaultBuilder
	tr, err := b.BuildRPCTransport(config.TransportSpec{Name: "tcp", Options: map[string]any{
		"role": "listener",
		"addr": "127.0.0.1:0",
	}})
	if err != nil {
		t.Fatalf("BuildRPCTransport: %v", err)
	}
	defer tr.Close()
}

func TestBuildSchemaTransportMemory(t *testing.T) {
	var b DefaultBuilder
	tr, err := b.BuildSchemaTransport(config.TransportSpec{Name: "memory"})
	if err != nil {
		t.Fatalf("BuildSchemaTransport: %v", err)
	}
	defer tr.Close()
}

// TestConfigToRegistryPipeline exercises config.NewFromMap ->
// wiring.DefaultBuilder -> transport.Registry.LoadConfig end to end,
// confirming a host application's plain nested map ends up as live
// transport instances registered under that API's name.
func TestConfigToRegistryPipeline(t *testing.T) {
	cfg, err := config.NewFromMap(map[string]any{
		"bus": map[string]any{
			"schema": map[string]any{
				"transport": map[string]any{"name": "memory"},
			},
		},
		"apis": map[string]any{
			"my.dummy": map[string]any{
				"rpc_transport":    map[string]any{"name": "memory"},
				"result_transport": map[string]any{"name": "memory"},
				"event_transport":  map[string]any{"name": "memory"},
			},
		},
	})
	if err != nil {
		t.Fatalf("NewFromMap: %v", err)
	}

	reg := transport.NewRegistry()
	if err := reg.LoadConfig(cfg, DefaultBuilder{}); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if _, err := reg.GetRPCTransport("my.dummy"); err != nil {
		t.Fatalf("GetRPCTransport: %v", err)
	}
	if _, err := reg.GetResultTransport("my.dummy"); err != nil {
		t.Fatalf("GetResultTransport: %v", err)
	}
	if _, err := reg.GetEventTransport("my.dummy"); err != nil {
		t.Fatalf("GetEventTransport: %v", err)
	}
	if _, err := reg.GetSchemaTransport(); err != nil {
		t.Fatalf("GetSchemaTransport: %v", err)
	}

	for _, closer := range reg.AllTransports() {
		closer.Close()
	}
}
