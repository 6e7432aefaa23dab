// Package rpc implements the synchronous request/response half of the
// bus: issuing a remote call and waiting for its reply, and consuming
// incoming calls to dispatch against locally-registered procedures.
// Both directions live in one engine rather than a client/server split,
// since a single process is often both a caller and a server for
// different APIs at once.
package rpc

import (
	"context"
	"errors"
	"fmt"

	"lightbus/api"
	"lightbus/config"
	"lightbus/lberrors"
	"lightbus/message"
	"lightbus/plugin"
	"lightbus/schema"
	"lightbus/transport"
)

// Engine implements call_rpc_remote and consume_rpcs against a
// transport.Registry, a schema.Store for validation, and a plugin.Bus
// for lifecycle hooks.
type Engine struct {
	Registry *transport.Registry
	Schema   *schema.Store
	Plugins  *plugin.Bus
	APIs     *api.Registry
	Config   *config.Config

	// ValidateIncoming / ValidateOutgoing apply only when Config is nil;
	// with a Config wired, Config.APIConfigOrDefault decides for every
	// API, including ones the Config never mentions.
	ValidateIncoming bool
	ValidateOutgoing bool
}

// NewEngine wires an Engine from its collaborators. cfg may be nil, in
// which case every API validates both directions and CallRemote never
// falls back to a configured rpc_timeout — only opts.Timeout applies.
func NewEngine(registry *transport.Registry, store *schema.Store, plugins *plugin.Bus, apis *api.Registry, cfg *config.Config) *Engine {
	return &Engine{
		Registry:         registry,
		Schema:           store,
		Plugins:          plugins,
		APIs:             apis,
		Config:           cfg,
		ValidateIncoming: true,
		ValidateOutgoing: true,
	}
}

// apiConfig resolves the effective per-API settings for apiName, falling
// back to Engine's own ValidateIncoming/ValidateOutgoing booleans (with
// zero timeouts and no strict validation) when no Config is wired.
func (e *Engine) apiConfig(apiName string) config.APIConfig {
	if e.Config == nil {
		return config.APIConfig{
			ValidateIncoming: e.ValidateIncoming,
			ValidateOutgoing: e.ValidateOutgoing,
		}
	}
	return e.Config.APIConfigOrDefault(apiName)
}

// CallRemote issues a synchronous RPC against apiName.procedureName and
// blocks for the reply: reserve a return path, validate and fire
// before_rpc_call, dispatch the request, then wait for the result
// (translating a context deadline into ErrTimeout) and fire
// after_rpc_call before returning.
func (e *Engine) CallRemote(ctx context.Context, apiName, procedureName string, kwargs map[string]any, opts transport.CallOptions) (any, error) {
	rpcTransport, err := e.Registry.GetRPCTransport(apiName)
	if err != nil {
		return nil, err
	}
	resultTransport, err := e.Registry.GetResultTransport(apiName)
	if err != nil {
		return nil, err
	}

	if procedureName == "" {
		return nil, lberrors.ErrInvalidName
	}

	msg, err := message.NewRpcMessage(apiName, procedureName, kwargs)
	if err != nil {
		return nil, err
	}

	returnPath, err := resultTransport.GetReturnPath(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("reserving return path: %w", err)
	}
	msg.ReturnPath = returnPath

	apiCfg := e.apiConfig(apiName)

	if apiCfg.ValidateOutgoing {
		if err := e.Schema.ValidateParameters(apiName, procedureName, kwargs, apiCfg.StrictValidation); err != nil {
			return nil, err
		}
	}

	if err := e.Plugins.Fire(ctx, plugin.BeforeRPCCall, plugin.Context{"rpc_message": msg}); err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = apiCfg.RPCTimeout
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// Start receiving before dispatching the call: the reply can in
	// principle arrive before CallRPC even returns, and starting the
	// wait first closes that race. Known residual gap: on timeout we
	// never attempt to remove the request from the remote queue.
	resultCh := make(chan result, 1)
	go func() {
		r, err := resultTransport.ReceiveResult(callCtx, msg, returnPath, opts)
		resultCh <- result{r, err}
	}()

	if err := rpcTransport.CallRPC(callCtx, msg, opts); err != nil {
		return nil, err
	}

	var res result
	select {
	case res = <-resultCh:
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, lberrors.ErrTimeout
		}
		return nil, callCtx.Err()
	}
	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) {
			return nil, lberrors.ErrTimeout
		}
		return nil, res.err
	}
	resultMsg := res.msg

	if resultMsg.Error {
		return nil, &lberrors.ServerError{
			Canonical: msg.CanonicalName(),
			Message:   fmt.Sprint(resultMsg.Result),
			Trace:     resultMsg.Trace,
		}
	}

	if err := e.Plugins.Fire(ctx, plugin.AfterRPCCall, plugin.Context{"rpc_message": msg, "result_message": resultMsg}); err != nil {
		return nil, err
	}

	if apiCfg.ValidateIncoming {
		if err := e.Schema.ValidateResponse(apiName, procedureName, resultMsg.Result, apiCfg.StrictValidation); err != nil {
			return nil, err
		}
	}

	return resultMsg.Result, nil
}

type result struct {
	msg *message.ResultMessage
	err error
}

// ConsumeRPCs groups apiNames by their rpc_transport and runs one
// consume loop per group, dispatching each incoming RpcMessage to its
// locally-registered procedure. It blocks until ctx is cancelled.
func (e *Engine) ConsumeRPCs(ctx context.Context, apiNames []string) error {
	if len(apiNames) == 0 {
		return lberrors.ErrNoAPIsToListenOn
	}

	groups, err := e.Registry.GetRPCTransportsGrouped(apiNames)
	if err != nil {
		return err
	}

	errCh := make(chan error, len(groups))
	for _, g := range groups {
		go func(g transport.RPCGroup) {
			errCh <- e.consumeGroup(ctx, g.Transport, g.APINames)
		}(g)
	}

	for range groups {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

func (e *Engine) consumeGroup(ctx context.Context, t transport.RpcTransport, apiNames []string) error {
	for {
		msgs, err := t.ConsumeRPCs(ctx, apiNames)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		for _, msg := range msgs {
			if err := e.handleOne(ctx, msg); err != nil {
				// SuddenDeath and cancellation must propagate and tear
				// the loop down; any other error came from sending the
				// result back and is dropped.
				if errors.Is(err, lberrors.ErrSuddenDeath) || errors.Is(err, context.Canceled) {
					return err
				}
			}
		}
	}
}

func (e *Engine) handleOne(ctx context.Context, msg *message.RpcMessage) error {
	apiCfg := e.apiConfig(msg.APIName)

	if apiCfg.ValidateIncoming {
		if err := e.Schema.ValidateParameters(msg.APIName, msg.ProcedureName, msg.Kwargs(), apiCfg.StrictValidation); err != nil {
			return e.sendResult(ctx, msg, message.NewResultMessageFromError(msg.RPCID, err))
		}
	}

	if err := e.Plugins.Fire(ctx, plugin.BeforeRPCExecution, plugin.Context{"rpc_message": msg}); err != nil {
		return e.sendResult(ctx, msg, message.NewResultMessageFromError(msg.RPCID, err))
	}

	a, err := e.APIs.Get(msg.APIName)
	if err != nil {
		return e.sendResult(ctx, msg, message.NewResultMessageFromError(msg.RPCID, err))
	}

	value, callErr := a.Call(ctx, msg.ProcedureName, msg.Kwargs())
	if callErr != nil {
		if errors.Is(callErr, lberrors.ErrSuddenDeath) || errors.Is(callErr, context.Canceled) {
			return callErr
		}
		return e.sendResult(ctx, msg, message.NewResultMessageFromError(msg.RPCID, callErr))
	}

	resultMsg := message.NewResultMessage(msg.RPCID, value)

	if err := e.Plugins.Fire(ctx, plugin.AfterRPCExecution, plugin.Context{"rpc_message": msg, "result_message": resultMsg}); err != nil {
		return e.sendResult(ctx, msg, message.NewResultMessageFromError(msg.RPCID, err))
	}

	if apiCfg.ValidateOutgoing {
		if err := e.Schema.ValidateResponse(msg.APIName, msg.ProcedureName, value, apiCfg.StrictValidation); err != nil {
			return e.sendResult(ctx, msg, message.NewResultMessageFromError(msg.RPCID, err))
		}
	}

	return e.sendResult(ctx, msg, resultMsg)
}

func (e *Engine) sendResult(ctx context.Context, msg *message.RpcMessage, resultMsg *message.ResultMessage) error {
	resultTransport, err := e.Registry.GetResultTransport(msg.APIName)
	if err != nil {
		return err
	}
	return resultTransport.SendResult(ctx, msg, resultMsg, msg.ReturnPath)
}
