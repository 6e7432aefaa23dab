// Package message defines the immutable value objects exchanged between
// a bus client and its transports: RpcMessage (request), ResultMessage
// (reply), and EventMessage (fire-and-forget notification).
//
// These are the wire-agnostic envelopes the RPC and Event engines build
// and read; serialization onto a specific transport (Redis, etcd, TCP) is
// the concern of the transport packages, not this one.
package message

import (
	"encoding/base64"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
)

// Message is implemented by all three envelope types so the schema
// validator and plugin hook bus can handle them generically.
type Message interface {
	// Metadata returns the non-kwarg fields of the message, the part a
	// serializer stores outside of the payload body.
	Metadata() map[string]any
	// Kwargs returns the keyword-argument payload of the message.
	Kwargs() map[string]any
}

// RpcMessage carries a single RPC request: the target api/procedure, its
// keyword arguments, and the return path the result transport assigned
// for routing the eventual ResultMessage back to the caller.
type RpcMessage struct {
	RPCID         string
	APIName       string
	ProcedureName string
	Kwargs_       map[string]any
	ReturnPath    string
}

// NewRpcMessage builds a request with a fresh, time-ordered rpc_id: a
// base64 encoding of a UUIDv1, matching the "unique identifier assigned
// at creation" requirement while keeping ids roughly sortable by issue
// time for debugging and log correlation.
func NewRpcMessage(apiName, procedureName string, kwargs map[string]any) (*RpcMessage, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return nil, fmt.Errorf("generating rpc id: %w", err)
	}
	return &RpcMessage{
		RPCID:         base64.StdEncoding.EncodeToString(id[:]),
		APIName:       apiName,
		ProcedureName: procedureName,
		Kwargs_:       kwargs,
	}, nil
}

// CanonicalName returns "{api_name}.{procedure_name}".
func (m *RpcMessage) CanonicalName() string {
	return m.APIName + "." + m.ProcedureName
}

func (m *RpcMessage) Metadata() map[string]any {
	return map[string]any{
		"rpc_id":         m.RPCID,
		"api_name":       m.APIName,
		"procedure_name": m.ProcedureName,
		"return_path":    m.ReturnPath,
	}
}

func (m *RpcMessage) Kwargs() map[string]any {
	return m.Kwargs_
}

// ResultMessage carries the reply to an RpcMessage. Result holds the
// success payload, or the stringified error when Error is true.
type ResultMessage struct {
	RPCID  string
	Result any
	Error  bool
	Trace  string
}

// NewResultMessage builds a successful reply.
func NewResultMessage(rpcID string, result any) *ResultMessage {
	return &ResultMessage{RPCID: rpcID, Result: result}
}

// NewResultMessageFromError builds a failed reply, stringifying err and
// capturing the current goroutine's stack so the caller can surface a
// remote trace alongside the error message.
func NewResultMessageFromError(rpcID string, err error) *ResultMessage {
	return &ResultMessage{
		RPCID:  rpcID,
		Result: err.Error(),
		Error:  true,
		Trace:  string(debug.Stack()),
	}
}

func (m *ResultMessage) Metadata() map[string]any {
	meta := map[string]any{
		"rpc_id": m.RPCID,
		"error":  m.Error,
	}
	if m.Error {
		meta["trace"] = m.Trace
	}
	return meta
}

func (m *ResultMessage) Kwargs() map[string]any {
	return map[string]any{"result": m.Result}
}

// EventMessage carries a single fired event: the target api/event and its
// keyword arguments. Delivered at-least-once to zero or more listeners.
type EventMessage struct {
	APIName   string
	EventName string
	Kwargs_   map[string]any
}

// NewEventMessage builds an event message, defaulting Kwargs to an empty
// map so callers never need a nil check on Kwargs().
func NewEventMessage(apiName, eventName string, kwargs map[string]any) *EventMessage {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return &EventMessage{APIName: apiName, EventName: eventName, Kwargs_: kwargs}
}

// CanonicalName returns "{api_name}.{event_name}".
func (m *EventMessage) CanonicalName() string {
	return m.APIName + "." + m.EventName
}

func (m *EventMessage) Metadata() map[string]any {
	return map[string]any{
		"api_name":   m.APIName,
		"event_name": m.EventName,
	}
}

func (m *EventMessage) Kwargs() map[string]any {
	return m.Kwargs_
}
