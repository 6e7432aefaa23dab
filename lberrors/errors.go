// Package lberrors defines the distinct, externally distinguishable error
// kinds produced by the bus client runtime.
//
// Sentinel values are used instead of exception classes so callers can rely
// on errors.Is/errors.As rather than type switches.
package lberrors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidName                 = errors.New("invalid name: empty or underscore-prefixed")
	ErrInvalidParameters           = errors.New("invalid parameters: positional arguments not allowed")
	ErrInvalidEventArguments       = errors.New("invalid event arguments: kwargs do not match event parameters")
	ErrInvalidEventListener        = errors.New("invalid event listener")
	ErrUnknownAPI                  = errors.New("unknown api")
	ErrProcedureNotFound           = errors.New("procedure not found")
	ErrEventNotFound               = errors.New("event not found")
	ErrNoAPIsToListenOn            = errors.New("no apis to listen on")
	ErrTimeout                     = errors.New("rpc timeout")
	ErrSchemaNotFound              = errors.New("schema not found")
	ErrInvalidBusNodeConfiguration = errors.New("invalid bus node configuration")
	ErrOnlyAvailableOnRootNode     = errors.New("only available on root node")
	ErrSuddenDeath                 = errors.New("sudden death")
	ErrNoTransport                 = errors.New("no transport configured")
)

// ServerError wraps a result message whose Error flag was set by the remote
// side. It carries the remote error text and, when available, the remote
// stack trace so callers can distinguish a local timeout from a handler
// failure on the serving process.
type ServerError struct {
	Canonical string
	Message   string
	Trace     string
}

func (e *ServerError) Error() string {
	if e.Trace == "" {
		return fmt.Sprintf("error calling %s: %s", e.Canonical, e.Message)
	}
	return fmt.Sprintf("error calling %s: %s\nremote stack trace:\n%s", e.Canonical, e.Message, e.Trace)
}

// ValidationError wraps a JSON-schema validation failure, keeping a
// reference to the underlying schema library error for inspection.
type ValidationError struct {
	APIName   string
	Name      string
	Direction string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s.%s (%s): %s", e.APIName, e.Name, e.Direction, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
