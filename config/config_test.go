package config

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewFromMapAppliesDefaults(t *testing.T) {
	cfg, err := NewFromMap(map[string]any{})
	if err != nil {
		t.Fatalf("NewFromMap: %v", err)
	}
	if cfg.Bus.SchemaTTL != defaultSchemaTTL {
		t.Fatalf("expected default schema ttl %v, got %v", defaultSchemaTTL, cfg.Bus.SchemaTTL)
	}
	if len(cfg.APIs) != 0 {
		t.Fatalf("expected no APIs, got %v", cfg.APIs)
	}
}

func TestNewFromMapParsesPerAPISettings(t *testing.T) {
	cfg, err := NewFromMap(map[string]any{
		"apis": map[string]any{
			"my.dummy": map[string]any{
				"rpc_timeout":      "2s",
				"strict_validation": true,
				"validate": map[string]any{
					"outgoing": false,
				},
				"rpc_transport": map[string]any{
					"name":    "redis",
					"options": map[string]any{"addr": "localhost:6379"},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("NewFromMap: %v", err)
	}

	api, ok := cfg.APIs["my.dummy"]
	if !ok {
		t.Fatal("expected my.dummy to be present")
	}
	if api.RPCTimeout != 2*time.Second {
		t.Fatalf("expected rpc_timeout 2s, got %v", api.RPCTimeout)
	}
	if !api.StrictValidation {
		t.Fatal("expected strict_validation true")
	}
	if api.ValidateOutgoing {
		t.Fatal("expected validate.outgoing false")
	}
	if !api.ValidateIncoming {
		t.Fatal("expected validate.incoming to default true")
	}
	if api.RPCTransport == nil || api.RPCTransport.Name != "redis" {
		t.Fatalf("expected rpc_transport name redis, got %+v", api.RPCTransport)
	}
}

func TestConfigDebugJSONIsValidJSON(t *testing.T) {
	cfg, err := NewFromMap(map[string]any{"bus": map[string]any{"schema": map[string]any{"ttl": "1m"}}})
	if err != nil {
		t.Fatalf("NewFromMap: %v", err)
	}
	data, err := cfg.DebugJSON()
	if err != nil {
		t.Fatalf("DebugJSON: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("DebugJSON did not produce valid JSON: %v", err)
	}
}
