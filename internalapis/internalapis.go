// Package internalapis provides the bus's own introspection surface:
// StateAPI and MetricsAPI, registered automatically at RunForever. Their
// surface is kept to the minimum useful for introspection: liveness,
// registered API names, process uptime, and a snapshot of Counters.
package internalapis

import (
	"context"
	"sync/atomic"
	"time"

	"lightbus/api"
)

// Counters is a set of process-wide call/event tallies; MetricsAPI
// reports a snapshot. The RPC and Event engines do not increment them:
// they stay at zero unless the host application updates them.
type Counters struct {
	RPCCallsHandled atomic.Int64
	RPCCallsFailed  atomic.Int64
	EventsFired     atomic.Int64
	EventsDelivered atomic.Int64
}

// StateAPI exposes liveness and the set of registered API names under
// "internal.state", a name every bus reserves for its own introspection.
const StateAPIName = "internal.state"

// MetricsAPIName is the reserved dotted name for MetricsAPI.
const MetricsAPIName = "internal.metrics"

// NewStateAPI builds the internal.state API. startedAt is the process
// start time; listNames returns the currently registered API names
// (queried live rather than snapshotted at registration, since APIs may
// be added after RunForever starts).
func NewStateAPI(startedAt time.Time, listNames func() []string) (api.API, error) {
	def, err := api.NewDefinition(StateAPIName)
	if err != nil {
		return nil, err
	}
	err = def.AddProcedure(api.Procedure{
		Name: "ping",
		Handler: func(ctx context.Context, kwargs map[string]any) (any, error) {
			return "pong", nil
		},
	})
	if err != nil {
		return nil, err
	}
	err = def.AddProcedure(api.Procedure{
		Name: "uptime_seconds",
		Handler: func(ctx context.Context, kwargs map[string]any) (any, error) {
			return time.Since(startedAt).Seconds(), nil
		},
	})
	if err != nil {
		return nil, err
	}
	err = def.AddProcedure(api.Procedure{
		Name: "registered_apis",
		Handler: func(ctx context.Context, kwargs map[string]any) (any, error) {
			return listNames(), nil
		},
	})
	if err != nil {
		return nil, err
	}
	return def, nil
}

// NewMetricsAPI builds the internal.metrics API, reporting a snapshot of
// counters maintained by the engines.
func NewMetricsAPI(counters *Counters) (api.API, error) {
	def, err := api.NewDefinition(MetricsAPIName)
	if err != nil {
		return nil, err
	}
	err = def.AddProcedure(api.Procedure{
		Name: "snapshot",
		Handler: func(ctx context.Context, kwargs map[string]any) (any, error) {
			return map[string]any{
				"rpc_calls_handled": counters.RPCCallsHandled.Load(),
				"rpc_calls_failed":  counters.RPCCallsFailed.Load(),
				"events_fired":      counters.EventsFired.Load(),
				"events_delivered":  counters.EventsDelivered.Load(),
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return def, nil
}
