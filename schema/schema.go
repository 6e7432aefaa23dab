// Package schema holds the bus's schema store: local schemas (derived
// from APIs this process serves, or loaded from files) and remote
// schemas (retrieved from the schema transport), plus JSON-schema
// validation of parameters and responses.
//
// The periodic renewal in Monitor follows the same lease-keepalive
// pattern as transport/etcd: re-announce before the remote TTL expires
// rather than waiting for an explicit deregistration step.
package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"lightbus/api"
	"lightbus/lberrors"
)

// RPCSchema describes one procedure's parameter and response JSON Schemas.
type RPCSchema struct {
	Parameters json.RawMessage `json:"parameters"`
	Response   json.RawMessage `json:"response"`
}

// EventSchema describes one event's parameter JSON Schema.
type EventSchema struct {
	Parameters json.RawMessage `json:"parameters"`
}

// APISchema is the schema for one API: its rpcs and events, keyed by name.
type APISchema struct {
	RPCs   map[string]RPCSchema   `json:"rpcs"`
	Events map[string]EventSchema `json:"events"`
}

// Transport is the subset of transport.SchemaTransport the store depends
// on, declared locally to avoid an import cycle between schema and
// transport (transport.Registry in turn depends on schema.APISchema).
type Transport interface {
	Store(ctx context.Context, apiName string, s APISchema, ttl time.Duration) error
	Ping(ctx context.Context, apiName string, s APISchema, ttl time.Duration) error
	Load(ctx context.Context) (map[string]APISchema, error)
}

// Store holds the local/remote schema pools and the compiled validators
// derived from them.
type Store struct {
	transport   Transport
	maxAge      time.Duration
	humanReadable bool

	mu     sync.RWMutex
	local  map[string]APISchema
	remote map[string]APISchema

	validatorsMu sync.Mutex
	validators   map[string]*jsonschema.Schema
}

// NewStore creates a schema store backed by the given transport, with
// schemas aged out after maxAge (defaults to 24h when zero is passed).
func NewStore(transport Transport, maxAge time.Duration, humanReadable bool) *Store {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Store{
		transport:     transport,
		maxAge:        maxAge,
		humanReadable: humanReadable,
		local:         make(map[string]APISchema),
		remote:        make(map[string]APISchema),
		validators:    make(map[string]*jsonschema.Schema),
	}
}

// MaxAge returns the store's configured schema TTL, used by callers that
// derive a monitor interval from it (0.8x the TTL).
func (s *Store) MaxAge() time.Duration {
	return s.maxAge
}

// Contains reports whether a schema exists for apiName in either pool.
func (s *Store) Contains(apiName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, inLocal := s.local[apiName]
	_, inRemote := s.remote[apiName]
	return inLocal || inRemote
}

// AddAPI derives an APISchema from api, stores it in the local pool, and
// asks the schema transport to store it with the store's configured TTL.
func (s *Store) AddAPI(ctx context.Context, a api.API) error {
	schema := FromAPI(a)

	s.mu.Lock()
	s.local[a.Name()] = schema
	s.mu.Unlock()

	s.invalidateValidators(a.Name())
	return s.transport.Store(ctx, a.Name(), schema, s.maxAge)
}

// GetAPISchema returns the schema for apiName, checking local then remote.
func (s *Store) GetAPISchema(apiName string) (APISchema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if schema, ok := s.local[apiName]; ok {
		return schema, nil
	}
	if schema, ok := s.remote[apiName]; ok {
		return schema, nil
	}
	return APISchema{}, fmt.Errorf("%w: %s", lberrors.ErrSchemaNotFound, apiName)
}

// GetEventSchema returns the schema for a single event.
func (s *Store) GetEventSchema(apiName, eventName string) (EventSchema, error) {
	apiSchema, err := s.GetAPISchema(apiName)
	if err != nil {
		return EventSchema{}, err
	}
	es, ok := apiSchema.Events[eventName]
	if !ok {
		return EventSchema{}, fmt.Errorf("%w: found schema for api %q, but it has no event %q",
			lberrors.ErrSchemaNotFound, apiName, eventName)
	}
	return es, nil
}

// GetRPCSchema returns the schema for a single procedure.
func (s *Store) GetRPCSchema(apiName, rpcName string) (RPCSchema, error) {
	apiSchema, err := s.GetAPISchema(apiName)
	if err != nil {
		return RPCSchema{}, err
	}
	rs, ok := apiSchema.RPCs[rpcName]
	if !ok {
		return RPCSchema{}, fmt.Errorf("%w: found schema for api %q, but it has no rpc %q",
			lberrors.ErrSchemaNotFound, apiName, rpcName)
	}
	return rs, nil
}

// GetEventOrRPCSchema tries the event schema first, then the rpc schema,
// returning the parameters JSON Schema of whichever is found.
func (s *Store) GetEventOrRPCSchema(apiName, name string) (json.RawMessage, error) {
	if es, err := s.GetEventSchema(apiName, name); err == nil {
		return es.Parameters, nil
	}
	if rs, err := s.GetRPCSchema(apiName, name); err == nil {
		return rs.Parameters, nil
	}
	return nil, fmt.Errorf("%w: no schema found for %q on api %q", lberrors.ErrSchemaNotFound, name, apiName)
}

// ValidateParameters validates kwargs against the parameters schema for
// the given event/rpc name. When no schema is registered for the name,
// the check is skipped (returns nil) unless strict is true, in which case
// a missing schema is itself a validation failure.
func (s *Store) ValidateParameters(apiName, eventOrRPCName string, kwargs map[string]any, strict bool) error {
	raw, err := s.GetEventOrRPCSchema(apiName, eventOrRPCName)
	if err != nil {
		if strict {
			return err
		}
		return nil
	}
	return s.validate(apiName, eventOrRPCName, "parameters", raw, kwargs)
}

// ValidateResponse validates a result payload against the response schema
// for the given rpc. Only RPCs have responses. A missing schema is
// skipped unless strict is true, matching ValidateParameters.
func (s *Store) ValidateResponse(apiName, rpcName string, response any, strict bool) error {
	rs, err := s.GetRPCSchema(apiName, rpcName)
	if err != nil {
		if strict {
			return err
		}
		return nil
	}
	return s.validate(apiName, rpcName, "response", rs.Response, response)
}

func (s *Store) validate(apiName, name, part string, raw json.RawMessage, value any) error {
	if len(raw) == 0 {
		return nil
	}
	v, err := s.compiledValidator(apiName, name, part, raw)
	if err != nil {
		return err
	}

	// jsonschema validates against generic Go values (map[string]any,
	// []any, primitives) produced by encoding/json, so round-trip value
	// through JSON to normalize it (e.g. structs -> map[string]any).
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling value for validation: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return fmt.Errorf("normalizing value for validation: %w", err)
	}

	if err := v.Validate(normalized); err != nil {
		return &lberrors.ValidationError{APIName: apiName, Name: name, Direction: part, Err: err}
	}
	return nil
}

func (s *Store) compiledValidator(apiName, name, part string, raw json.RawMessage) (*jsonschema.Schema, error) {
	key := apiName + "." + name + "." + part

	s.validatorsMu.Lock()
	defer s.validatorsMu.Unlock()

	if v, ok := s.validators[key]; ok {
		return v, nil
	}

	compiler := jsonschema.NewCompiler()
	url := "mem://" + key + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("loading schema %s: %w", key, err)
	}
	v, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", key, err)
	}
	s.validators[key] = v
	return v, nil
}

func (s *Store) invalidateValidators(apiName string) {
	s.validatorsMu.Lock()
	defer s.validatorsMu.Unlock()
	prefix := apiName + "."
	for key := range s.validators {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(s.validators, key)
		}
	}
}

// APINames returns the union of local and remote schema api names.
func (s *Store) APINames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(s.local)+len(s.remote))
	for name := range s.local {
		seen[name] = struct{}{}
	}
	for name := range s.remote {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SaveToBus re-stores every local schema with a fresh TTL.
func (s *Store) SaveToBus(ctx context.Context) error {
	s.mu.RLock()
	local := make(map[string]APISchema, len(s.local))
	for k, v := range s.local {
		local[k] = v
	}
	s.mu.RUnlock()

	for apiName, schema := range local {
		if err := s.transport.Store(ctx, apiName, schema, s.maxAge); err != nil {
			return err
		}
	}
	return nil
}

// LoadFromBus replaces the remote pool with the schema transport's Load()
// result.
func (s *Store) LoadFromBus(ctx context.Context) error {
	remote, err := s.transport.Load(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.remote = remote
	s.mu.Unlock()
	return nil
}

// Monitor runs until ctx is cancelled. Every interval (default 0.8 ×
// ttl) it renews the lease on every local schema and refreshes the
// remote pool. Cancellation causes a clean exit (nil return).
func (s *Store) Monitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Duration(float64(s.maxAge) * 0.8)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.mu.RLock()
			local := make(map[string]APISchema, len(s.local))
			for k, v := range s.local {
				local[k] = v
			}
			s.mu.RUnlock()

			for apiName, schema := range local {
				if err := s.transport.Ping(ctx, apiName, schema, s.maxAge); err != nil {
					return fmt.Errorf("pinging schema for %s: %w", apiName, err)
				}
			}
			if err := s.LoadFromBus(ctx); err != nil {
				return err
			}
		}
	}
}

// SaveLocal dumps all present schemas (local and remote) to w as JSON,
// indented when humanReadable was requested at construction.
func (s *Store) SaveLocal(w io.Writer) error {
	data, err := s.dump()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// SaveLocalDir dumps one JSON file per API into dir, named by a
// file-safe rendering of the dotted API name.
func (s *Store) SaveLocalDir(dir string) error {
	for _, apiName := range s.APINames() {
		apiSchema, err := s.GetAPISchema(apiName)
		if err != nil {
			return err
		}
		data, err := s.encode(map[string]APISchema{apiName: apiSchema})
		if err != nil {
			return err
		}
		path := filepath.Join(dir, MakeFileSafeAPIName(apiName)+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing schema file %s: %w", path, err)
		}
	}
	return nil
}

func (s *Store) dump() ([]byte, error) {
	out := make(map[string]APISchema)
	for _, apiName := range s.APINames() {
		apiSchema, err := s.GetAPISchema(apiName)
		if err != nil {
			return nil, err
		}
		out[apiName] = apiSchema
	}
	return s.encode(out)
}

func (s *Store) encode(v any) ([]byte, error) {
	if s.humanReadable {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// LoadLocal loads schemas from r as local schemas (not sent to the bus).
// Useful for validation during development and testing.
func (s *Store) LoadLocal(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	var loaded map[string]APISchema
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing schema data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for apiName, apiSchema := range loaded {
		s.local[apiName] = apiSchema
	}
	return nil
}

// LoadLocalDir loads each *.json file in dir (the directory-dump layout
// SaveLocalDir produces). Each file holds a JSON object mapping API name
// to schema, and those API names, not the file names, become the keys.
func (s *Store) LoadLocalDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		var loaded map[string]APISchema
		if err := json.Unmarshal(data, &loaded); err != nil {
			return fmt.Errorf("parsing schema file %s: %w", entry.Name(), err)
		}
		for apiName, apiSchema := range loaded {
			s.local[apiName] = apiSchema
		}
	}
	return nil
}

// MakeFileSafeAPIName renders a dotted API name safe for use as a file
// name, replacing path separators with underscores.
func MakeFileSafeAPIName(apiName string) string {
	out := make([]rune, 0, len(apiName))
	for _, r := range apiName {
		switch r {
		case '/', '\\', ':':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

