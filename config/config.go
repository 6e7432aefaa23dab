// Package config builds bus configuration from plain Go maps via koanf.
// Unlike most koanf users in the wild, this package deliberately never
// reaches for a file provider: bus configuration is wired up
// programmatically by the host application, so the only provider
// registered is confmap.
package config

import (
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
)

// TransportSpec names a transport kind plus the options needed to build
// it ("redis", "etcd", "tcp", "memory", ...). Concrete option shapes live
// with their transport package; here it's just a name and an opaque blob
// so config stays decoupled from transport/redis et al.
type TransportSpec struct {
	Name    string
	Options map[string]any
}

// APIConfig holds the per-API overrides under apis.<name>.*: timeouts,
// validation toggles, and the three transport specs an API can override.
type APIConfig struct {
	RPCTimeout                time.Duration
	EventFireTimeout          time.Duration
	EventListenerSetupTimeout time.Duration
	ValidateIncoming          bool
	ValidateOutgoing          bool
	StrictValidation          bool

	RPCTransport    *TransportSpec
	ResultTransport *TransportSpec
	EventTransport  *TransportSpec
}

// BusConfig holds bus-wide settings: the bus.schema.* keys and the
// bus.schema.transport spec.
type BusConfig struct {
	SchemaTTL           time.Duration
	SchemaHumanReadable bool
	SchemaLoadTimeout   time.Duration
	AddAPITimeout       time.Duration
	SchemaTransport     *TransportSpec
}

// Config is the fully resolved bus configuration, constructed from a
// plain map[string]interface{} via NewFromMap so host applications never
// need to touch koanf directly.
type Config struct {
	Bus  BusConfig
	APIs map[string]APIConfig

	raw *koanf.Koanf
}

// APIConfigOrDefault returns the configured APIConfig for name, or an
// APIConfig built entirely from defaults if name was never mentioned in
// the map NewFromMap was built from. This lets engines look up an API's
// timeout/validation settings unconditionally, rather than special-casing
// the absent-from-config case at every call site.
func (c *Config) APIConfigOrDefault(name string) APIConfig {
	if c == nil {
		return defaultAPIConfig()
	}
	if cfg, ok := c.APIs[name]; ok {
		return cfg
	}
	return defaultAPIConfig()
}

func defaultAPIConfig() APIConfig {
	return APIConfig{
		RPCTimeout:                defaultRPCTimeout,
		EventFireTimeout:          defaultEventFireTimeout,
		EventListenerSetupTimeout: defaultEventListenerSetupTimeout,
		ValidateIncoming:          true,
		ValidateOutgoing:          true,
		StrictValidation:          false,
	}
}

// DebugJSON renders the fully-resolved configuration as indented JSON,
// for a startup log line a host application's logging plugin can emit
// without reaching into koanf itself.
func (c *Config) DebugJSON() ([]byte, error) {
	return marshalForDebug(c.raw)
}

const (
	defaultSchemaTTL                 = 60 * time.Second
	defaultSchemaLoadTimeout         = 5 * time.Second
	defaultAddAPITimeout             = 5 * time.Second
	defaultRPCTimeout                = 5 * time.Second
	defaultEventFireTimeout          = 5 * time.Second
	defaultEventListenerSetupTimeout = 5 * time.Second
)

// NewFromMap builds a Config from a nested map using koanf's confmap
// provider, applying sensible defaults (5s RPC timeout, 60s schema TTL,
// etc.) for any key the map omits.
func NewFromMap(m map[string]any) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(m, "."), nil); err != nil {
		return nil, err
	}

	cfg := &Config{
		raw: k,
		Bus: BusConfig{
			SchemaTTL:           getDuration(k, "bus.schema.ttl", defaultSchemaTTL),
			SchemaHumanReadable: k.Bool("bus.schema.human_readable"),
			SchemaLoadTimeout:   getDuration(k, "bus.schema.load_timeout", defaultSchemaLoadTimeout),
			AddAPITimeout:       getDuration(k, "bus.schema.add_api_timeout", defaultAddAPITimeout),
			SchemaTransport:     getTransportSpec(k, "bus.schema.transport"),
		},
		APIs: make(map[string]APIConfig),
	}

	apis, ok := k.Get("apis").(map[string]any)
	if !ok {
		return cfg, nil
	}
	for name := range apis {
		prefix := "apis." + name + "."
		cfg.APIs[name] = APIConfig{
			RPCTimeout:                getDuration(k, prefix+"rpc_timeout", defaultRPCTimeout),
			EventFireTimeout:          getDuration(k, prefix+"event_fire_timeout", defaultEventFireTimeout),
			EventListenerSetupTimeout: getDuration(k, prefix+"event_listener_setup_timeout", defaultEventListenerSetupTimeout),
			ValidateIncoming:          getBoolDefault(k, prefix+"validate.incoming", true),
			ValidateOutgoing:          getBoolDefault(k, prefix+"validate.outgoing", true),
			StrictValidation:          k.Bool(prefix + "strict_validation"),
			RPCTransport:              getTransportSpec(k, prefix+"rpc_transport"),
			ResultTransport:           getTransportSpec(k, prefix+"result_transport"),
			EventTransport:            getTransportSpec(k, prefix+"event_transport"),
		}
	}
	return cfg, nil
}

func getDuration(k *koanf.Koanf, key string, fallback time.Duration) time.Duration {
	if !k.Exists(key) {
		return fallback
	}
	switch v := k.Get(key).(type) {
	case time.Duration:
		return v
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return fallback
		}
		return d
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	default:
		return fallback
	}
}

func getBoolDefault(k *koanf.Koanf, key string, fallback bool) bool {
	if !k.Exists(key) {
		return fallback
	}
	return k.Bool(key)
}

func getTransportSpec(k *koanf.Koanf, key string) *TransportSpec {
	raw, ok := k.Get(key).(map[string]any)
	if !ok {
		return nil
	}
	name, _ := raw["name"].(string)
	if name == "" {
		return nil
	}
	opts, _ := raw["options"].(map[string]any)
	return &TransportSpec{Name: name, Options: opts}
}

// marshalForDebug renders the koanf tree through koanf's JSON parser;
// DebugJSON is its only caller.
func marshalForDebug(k *koanf.Koanf) ([]byte, error) {
	return k.Marshal(json.Parser())
}
