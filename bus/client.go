// Package bus is the composition root: Client wires the schema store,
// plugin bus, transport registry, and RPC/Event engines together and
// drives the process lifecycle (Setup, RunForever, CloseAsync). Node
// provides the hierarchical dotted-path builder on top of a Client.
package bus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lightbus/api"
	"lightbus/config"
	"lightbus/event"
	"lightbus/internalapis"
	"lightbus/plugin"
	"lightbus/rpc"
	"lightbus/schema"
	"lightbus/transport"
)

// Client is a fully wired bus: the schema store, plugin bus, transport
// registry, and the two engines built on top of them, plus the process
// lifecycle. Construct one with NewClient, call Setup once, then either
// RunForever for a long-lived server process, or just Call/Fire/Listen
// directly for a pure client.
type Client struct {
	Registry *transport.Registry
	Schema   *schema.Store
	Plugins  *plugin.Bus
	APIs     *api.Registry
	RPC      *rpc.Engine
	Event    *event.Engine
	Counters *internalapis.Counters
	Log      *zap.Logger

	startedAt time.Time

	listenersMu sync.Mutex
	listeners   map[string]int // api_name -> active listener refcount

	tasksMu       sync.Mutex
	listenerTasks []*event.ListenerTask
	consumeCancel context.CancelFunc
	monitorCancel context.CancelFunc
}

// NewClient wires a Client from its collaborators. cfg may be nil, in
// which case the engines apply no per-API timeout/validation overrides
// beyond their own built-in defaults. log may be nil, in which case
// zap.NewNop() is used.
func NewClient(registry *transport.Registry, store *schema.Store, apis *api.Registry, cfg *config.Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	plugins := plugin.NewBus()
	return &Client{
		Registry:  registry,
		Schema:    store,
		Plugins:   plugins,
		APIs:      apis,
		RPC:       rpc.NewEngine(registry, store, plugins, apis, cfg),
		Event:     event.NewEngine(registry, store, plugins, apis, cfg, log),
		Counters:  &internalapis.Counters{},
		Log:       log,
		listeners: make(map[string]int),
	}
}

// Setup loads plugins, loads the remote schema pool, and calls AddAPI
// for every locally registered API.
func (c *Client) Setup(ctx context.Context, plugins ...plugin.Plugin) error {
	for _, p := range plugins {
		c.Plugins.Register(p)
	}

	if err := c.Schema.LoadFromBus(ctx); err != nil {
		return fmt.Errorf("loading schema from bus: %w", err)
	}

	for _, a := range c.APIs.All() {
		if err := c.Schema.AddAPI(ctx, a); err != nil {
			return fmt.Errorf("adding api %s to schema store: %w", a.Name(), err)
		}
	}
	return nil
}

// RunForever registers internal APIs, fires before_server_start, starts
// the RPC consumer (if consumeRPCs and the registry is non-empty) and
// the schema monitor, installs signal handlers, and blocks until an
// interrupt/terminate signal or ctx is done. On stop it tears down the
// background tasks with a grace window, closes every transport, and
// fires after_server_stopped.
func (c *Client) RunForever(ctx context.Context, consumeRPCs bool) error {
	c.startedAt = time.Now()

	stateAPI, err := internalapis.NewStateAPI(c.startedAt, c.APIs.Names)
	if err != nil {
		return err
	}
	metricsAPI, err := internalapis.NewMetricsAPI(c.Counters)
	if err != nil {
		return err
	}
	c.APIs.Add(stateAPI)
	c.APIs.Add(metricsAPI)

	if err := c.Plugins.Fire(ctx, plugin.BeforeServerStart, plugin.Context{"client": c}); err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(sigCtx)

	names := c.APIs.Names()
	if consumeRPCs && len(names) > 0 {
		consumeCtx, cancel := context.WithCancel(groupCtx)
		c.tasksMu.Lock()
		c.consumeCancel = cancel
		c.tasksMu.Unlock()
		group.Go(func() error {
			err := c.RPC.ConsumeRPCs(consumeCtx, names)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	monitorCtx, monitorCancel := context.WithCancel(groupCtx)
	c.tasksMu.Lock()
	c.monitorCancel = monitorCancel
	c.tasksMu.Unlock()
	group.Go(func() error {
		err := c.Schema.Monitor(monitorCtx, c.schemaMonitorInterval())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	<-sigCtx.Done()

	// Grace window: give the background tasks a moment to observe
	// cancellation before closing every transport out from under them.
	c.tasksMu.Lock()
	if c.consumeCancel != nil {
		c.consumeCancel()
	}
	c.monitorCancel()
	c.tasksMu.Unlock()

	graceCtx, graceCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer graceCancel()
	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			c.Log.Warn("background task exited with error", zap.Error(err))
		}
	case <-graceCtx.Done():
		c.Log.Warn("background tasks did not stop within grace window")
	}

	if err := c.closeAllTransports(); err != nil {
		c.Log.Warn("error closing transports", zap.Error(err))
	}

	return c.Plugins.Fire(context.Background(), plugin.AfterServerStopped, plugin.Context{"client": c})
}

func (c *Client) schemaMonitorInterval() time.Duration {
	return c.Schema.MaxAge() * 8 / 10
}

// CloseAsync cancels every listener task and closes every transport.
func (c *Client) CloseAsync(ctx context.Context) error {
	c.tasksMu.Lock()
	tasks := c.listenerTasks
	c.listenerTasks = nil
	c.tasksMu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	for _, t := range tasks {
		t.Wait()
	}

	return c.closeAllTransports()
}

func (c *Client) closeAllTransports() error {
	var firstErr error
	for _, t := range c.Registry.AllTransports() {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Call issues a synchronous RPC. A thin pass-through to c.RPC.CallRemote
// kept on Client so Node doesn't need to reach into internals.
func (c *Client) Call(ctx context.Context, apiName, procedureName string, kwargs map[string]any, opts transport.CallOptions) (any, error) {
	return c.RPC.CallRemote(ctx, apiName, procedureName, kwargs, opts)
}

// Fire sends an event.
func (c *Client) Fire(ctx context.Context, apiName, eventName string, kwargs map[string]any, opts transport.FireOptions) error {
	return c.Event.Fire(ctx, apiName, eventName, kwargs, opts)
}

// Listen opens listener tasks for the given selectors, registers them
// for coordinated shutdown via CloseAsync, and bumps the per-API
// listener refcount that ListenerCount reports. The returned
// deregistration closure decrements the refcount and must be deferred by
// the caller.
func (c *Client) Listen(ctx context.Context, events []transport.EventSelector, consumerGroup string, listener event.Listener) ([]*event.ListenerTask, func(), error) {
	tasks, err := c.Event.ListenForEvents(ctx, events, consumerGroup, listener)
	if err != nil {
		return nil, func() {}, err
	}

	c.tasksMu.Lock()
	c.listenerTasks = append(c.listenerTasks, tasks...)
	c.tasksMu.Unlock()

	dereg := c.registerListener(events)
	return tasks, dereg, nil
}

func (c *Client) registerListener(events []transport.EventSelector) func() {
	c.listenersMu.Lock()
	for _, sel := range events {
		c.listeners[sel.APIName]++
	}
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		for _, sel := range events {
			if c.listeners[sel.APIName] > 0 {
				c.listeners[sel.APIName]--
			}
		}
	}
}

// ListenerCount reports the number of active listener registrations for
// apiName. The internal.state and internal.metrics APIs do not expose it.
func (c *Client) ListenerCount(apiName string) int {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	return c.listeners[apiName]
}

// AddAPI registers a served API both locally and with the schema store.
func (c *Client) AddAPI(ctx context.Context, a api.API) error {
	c.APIs.Add(a)
	return c.Schema.AddAPI(ctx, a)
}
