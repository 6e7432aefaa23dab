// Package event implements the fire-and-forget half of the bus: sending
// events and running per-transport listener loops that deliver them to
// registered callbacks with two-phase acknowledgement.
package event

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"lightbus/api"
	"lightbus/config"
	"lightbus/lberrors"
	"lightbus/message"
	"lightbus/plugin"
	"lightbus/schema"
	"lightbus/transport"
)

// Listener receives a fired event: the api/event name it fired under and
// the event's keyword arguments. Returning an error is logged by the
// listener task and does not stop the consumer.
type Listener func(ctx context.Context, apiName, eventName string, kwargs map[string]any) error

// Engine implements fire_event and listen_for_events against a
// transport.Registry, a schema.Store, a plugin.Bus, and the set of
// locally-registered APIs (fire only ever targets a locally-known API).
type Engine struct {
	Registry *transport.Registry
	Schema   *schema.Store
	Plugins  *plugin.Bus
	APIs     *api.Registry
	Config   *config.Config
	Log      *zap.Logger

	// ValidateOutgoing applies only when Config is nil; with a Config
	// wired, Config.APIConfigOrDefault decides for every API.
	ValidateOutgoing bool
}

// NewEngine wires an Engine from its collaborators. cfg may be nil, in
// which case every API validates outgoing events and Fire never applies
// an event_fire_timeout deadline. log may be nil, in which case
// zap.NewNop() is used and recovered panics/listener errors go nowhere.
func NewEngine(registry *transport.Registry, store *schema.Store, plugins *plugin.Bus, apis *api.Registry, cfg *config.Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		Registry:         registry,
		Schema:           store,
		Plugins:          plugins,
		APIs:             apis,
		Config:           cfg,
		Log:              log,
		ValidateOutgoing: true,
	}
}

// apiConfig resolves the effective per-API settings for apiName, falling
// back to Engine's own ValidateOutgoing bool (and unconditional incoming
// validation) when no Config is wired.
func (e *Engine) apiConfig(apiName string) config.APIConfig {
	if e.Config == nil {
		return config.APIConfig{ValidateIncoming: true, ValidateOutgoing: e.ValidateOutgoing}
	}
	return e.Config.APIConfigOrDefault(apiName)
}

// Fire validates and sends a single event: look up its definition,
// check the keyword arguments against it, fire before_event_sent,
// dispatch over the event transport, then fire after_event_sent.
func (e *Engine) Fire(ctx context.Context, apiName, eventName string, kwargs map[string]any, opts transport.FireOptions) error {
	a, err := e.APIs.Get(apiName)
	if err != nil {
		return err
	}

	var def api.Event
	var found bool
	for _, candidate := range a.Events() {
		if candidate.Name == eventName {
			def, found = candidate, true
			break
		}
	}
	if !found {
		return lberrors.ErrEventNotFound
	}

	if !exactKeySetMatch(kwargs, def.Parameters) {
		return lberrors.ErrInvalidEventArguments
	}

	msg := message.NewEventMessage(apiName, eventName, kwargs)

	apiCfg := e.apiConfig(apiName)

	if apiCfg.ValidateOutgoing {
		if err := e.Schema.ValidateParameters(apiName, eventName, kwargs, apiCfg.StrictValidation); err != nil {
			return err
		}
	}

	if err := e.Plugins.Fire(ctx, plugin.BeforeEventSent, plugin.Context{"event_message": msg}); err != nil {
		return err
	}

	eventTransport, err := e.Registry.GetEventTransport(apiName)
	if err != nil {
		return err
	}

	sendCtx := ctx
	if apiCfg.EventFireTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, apiCfg.EventFireTimeout)
		defer cancel()
	}

	if err := eventTransport.SendEvent(sendCtx, msg, opts); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return lberrors.ErrTimeout
		}
		return err
	}

	return e.Plugins.Fire(ctx, plugin.AfterEventSent, plugin.Context{"event_message": msg})
}

func exactKeySetMatch(kwargs map[string]any, params []string) bool {
	if len(kwargs) != len(params) {
		return false
	}
	for _, p := range params {
		if _, ok := kwargs[p]; !ok {
			return false
		}
	}
	return true
}

// ListenerTask wraps the goroutine running one per-transport listener
// loop, tagged so BusClient.CloseAsync can find and cancel every
// listener without touching unrelated background work.
type ListenerTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// IsListener reports that this task is a listener task (always true);
// present so callers can pick listener tasks out of a slice of mixed
// background tasks.
func (t *ListenerTask) IsListener() bool { return true }

// Cancel stops the listener loop. It does not block until the loop has
// actually exited; use Wait for that.
func (t *ListenerTask) Cancel() { t.cancel() }

// Wait blocks until the listener loop has exited.
func (t *ListenerTask) Wait() { <-t.done }

// ListenForEvents groups the requested (api, event) pairs by
// event_transport and spawns one listener task per group. consumerGroup,
// if empty, is replaced with a random 4-character name so each Listen
// call gets an independent consumer unless the caller opts into sharing.
func (e *Engine) ListenForEvents(ctx context.Context, events []transport.EventSelector, consumerGroup string, listener Listener) ([]*ListenerTask, error) {
	if len(events) == 0 {
		return nil, lberrors.ErrNoAPIsToListenOn
	}
	if listener == nil {
		return nil, lberrors.ErrInvalidEventListener
	}
	if consumerGroup == "" {
		consumerGroup = randomConsumerGroup()
	}

	apiNames := make([]string, 0, len(events))
	selectorsByAPI := make(map[string][]transport.EventSelector)
	for _, sel := range events {
		if _, seen := selectorsByAPI[sel.APIName]; !seen {
			apiNames = append(apiNames, sel.APIName)
		}
		selectorsByAPI[sel.APIName] = append(selectorsByAPI[sel.APIName], sel)
	}

	groups, err := e.Registry.GetEventTransportsGrouped(apiNames)
	if err != nil {
		return nil, err
	}

	tasks := make([]*ListenerTask, 0, len(groups))
	for _, g := range groups {
		var selectors []transport.EventSelector
		for _, name := range g.APINames {
			selectors = append(selectors, selectorsByAPI[name]...)
		}

		taskCtx, cancel := context.WithCancel(ctx)
		task := &ListenerTask{cancel: cancel, done: make(chan struct{})}

		consumer, err := g.Transport.Consume(taskCtx, selectors, consumerGroup, transport.ListenOptions{ConsumerGroup: consumerGroup})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("opening consumer: %w", err)
		}

		go e.runListenerLoop(taskCtx, task, consumer, listener)
		tasks = append(tasks, task)
	}

	return tasks, nil
}

func (e *Engine) runListenerLoop(ctx context.Context, task *ListenerTask, consumer transport.EventConsumer, listener Listener) {
	defer close(task.done)
	defer consumer.Close()
	defer e.recoverAndLog()

	for {
		msg, err := consumer.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			e.Log.Warn("event consumer error, retrying", zap.Error(err))
			continue
		}

		e.handleOne(ctx, msg, listener)

		// Advance the consumer a second time: this Ack is the
		// acknowledgement signal telling the transport the message was
		// handled and it may move on to the next one.
		if err := consumer.Ack(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			e.Log.Warn("event ack failed", zap.Error(err))
		}
	}
}

func (e *Engine) handleOne(ctx context.Context, msg *message.EventMessage, listener Listener) {
	defer e.recoverAndLog()

	apiCfg := e.apiConfig(msg.APIName)
	if apiCfg.ValidateIncoming {
		if err := e.Schema.ValidateParameters(msg.APIName, msg.EventName, msg.Kwargs(), apiCfg.StrictValidation); err != nil {
			e.Log.Warn("dropping event that failed incoming validation",
				zap.String("api", msg.APIName), zap.String("event", msg.EventName), zap.Error(err))
			return
		}
	}

	if err := e.Plugins.Fire(ctx, plugin.BeforeEventExecution, plugin.Context{"event_message": msg}); err != nil {
		e.Log.Warn("before_event_execution hook errored", zap.Error(err))
		return
	}

	if err := listener(ctx, msg.APIName, msg.EventName, msg.Kwargs()); err != nil {
		e.Log.Warn("event listener returned an error",
			zap.String("api", msg.APIName), zap.String("event", msg.EventName), zap.Error(err))
	}

	if err := e.Plugins.Fire(ctx, plugin.AfterEventExecution, plugin.Context{"event_message": msg}); err != nil {
		e.Log.Warn("after_event_execution hook errored", zap.Error(err))
	}
}

// recoverAndLog stops a panicking listener from crashing the host
// process, logging the recovered value before the listener task's
// goroutine unwinds.
func (e *Engine) recoverAndLog() {
	if r := recover(); r != nil {
		e.Log.Error("recovered from panic in event listener task", zap.Any("panic", r))
	}
}

func randomConsumerGroup() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "anon"
	}
	out := make([]byte, 4)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out)
}
