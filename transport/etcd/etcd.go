// Package etcd implements transport.SchemaTransport on top of etcd v3:
// schemas are stored under a key prefix with a TTL-bound lease, so a
// process that stops pinging its schema simply falls out of the remote
// pool once its lease expires — no explicit deregistration step needed.
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"lightbus/schema"
)

const keyPrefix = "/lightbus/schema/"

// SchemaTransport stores and retrieves API schemas in etcd.
type SchemaTransport struct {
	client *clientv3.Client
}

// New connects to the given etcd endpoints.
func New(endpoints []string) (*SchemaTransport, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, fmt.Errorf("etcd: connect: %w", err)
	}
	return &SchemaTransport{client: c}, nil
}

// Store writes apiName's schema under a fresh TTL lease and starts
// keeping that lease alive in the background. Calling Store again for
// the same API (e.g. on the next schema-monitor tick) grants a new
// lease rather than renewing the old one — harmless, since the old
// lease simply expires unrenewed a few ticks later.
func (t *SchemaTransport) Store(ctx context.Context, apiName string, s schema.APISchema, ttl time.Duration) error {
	return t.put(ctx, apiName, s, ttl)
}

// Ping re-stores apiName's schema, renewing its remote lifetime. Granting
// a fresh lease each tick rather than tracking lease ids across calls
// avoids a data race on a lease id shared across goroutines.
func (t *SchemaTransport) Ping(ctx context.Context, apiName string, s schema.APISchema, ttl time.Duration) error {
	return t.put(ctx, apiName, s, ttl)
}

func (t *SchemaTransport) put(ctx context.Context, apiName string, s schema.APISchema, ttl time.Duration) error {
	seconds := int64(ttl.Seconds())
	if seconds < 1 {
		seconds = 1
	}

	lease, err := t.client.Grant(ctx, seconds)
	if err != nil {
		return fmt.Errorf("etcd: grant lease: %w", err)
	}

	val, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("etcd: marshal schema for %s: %w", apiName, err)
	}

	if _, err := t.client.Put(ctx, keyPrefix+apiName, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("etcd: put schema for %s: %w", apiName, err)
	}

	ch, err := t.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("etcd: keepalive for %s: %w", apiName, err)
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Load returns every currently live schema under the key prefix.
// Expired leases simply aren't returned — etcd has already removed them.
func (t *SchemaTransport) Load(ctx context.Context) (map[string]schema.APISchema, error) {
	resp, err := t.client.Get(ctx, keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd: load schemas: %w", err)
	}

	out := make(map[string]schema.APISchema, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		apiName := string(kv.Key)[len(keyPrefix):]
		var s schema.APISchema
		if err := json.Unmarshal(kv.Value, &s); err != nil {
			continue
		}
		out[apiName] = s
	}
	return out, nil
}

// Close releases the underlying etcd client connection.
func (t *SchemaTransport) Close() error {
	return t.client.Close()
}
