package bus

import (
	"context"
	"strings"

	"lightbus/event"
	"lightbus/lberrors"
	"lightbus/transport"
)

// Node is a hierarchical path-builder: each attribute access on a bus
// object becomes, here, an explicit child Node carrying its parent and
// its own path segment. The dotted API name a Node addresses is the
// "."-joined path from root to this node; the root node itself
// addresses no API and only exists to start path-building and to gate
// ListenMultiple.
type Node struct {
	client  *Client
	parent  *Node
	segment string
}

// NewRootNode returns the root of a hierarchical path rooted at client.
// Call Child (or just address node.segment.segment... via repeated
// Child calls) to build an API path, then Call/Fire/Listen on the
// resulting leaf.
func NewRootNode(client *Client) *Node {
	return &Node{client: client}
}

// Child returns a new Node one segment below n.
func (n *Node) Child(segment string) *Node {
	return &Node{client: n.client, parent: n, segment: segment}
}

// IsRoot reports whether this node is the bus root.
func (n *Node) IsRoot() bool {
	return n.parent == nil
}

// APIName returns the dotted path from root to this node, e.g. "my.dummy"
// for root.Child("my").Child("dummy"). The root node's APIName is empty.
func (n *Node) APIName() string {
	if n.parent == nil {
		return ""
	}
	segments := make([]string, 0, 4)
	for cur := n; cur.parent != nil; cur = cur.parent {
		segments = append([]string{cur.segment}, segments...)
	}
	return strings.Join(segments, ".")
}

// Call issues a synchronous RPC against this node's API.
func (n *Node) Call(ctx context.Context, procedureName string, kwargs map[string]any, opts transport.CallOptions) (any, error) {
	if n.IsRoot() {
		return nil, lberrors.ErrInvalidBusNodeConfiguration
	}
	return n.client.Call(ctx, n.APIName(), procedureName, kwargs, opts)
}

// Fire sends an event against this node's API.
func (n *Node) Fire(ctx context.Context, eventName string, kwargs map[string]any, opts transport.FireOptions) error {
	if n.IsRoot() {
		return lberrors.ErrInvalidBusNodeConfiguration
	}
	return n.client.Fire(ctx, n.APIName(), eventName, kwargs, opts)
}

// Listen listens for a single event on this node's API.
func (n *Node) Listen(ctx context.Context, eventName string, consumerGroup string, listener event.Listener) ([]*event.ListenerTask, func(), error) {
	if n.IsRoot() {
		return nil, func() {}, lberrors.ErrInvalidBusNodeConfiguration
	}
	selectors := []transport.EventSelector{{APIName: n.APIName(), EventName: eventName}}
	return n.client.Listen(ctx, selectors, consumerGroup, listener)
}

// ListenMultiple listens across several (node, event_name) pairs at
// once, sharing one set of listener tasks grouped by transport. Only
// available on the root node — any non-root node only ever addresses
// its own single API.
func (n *Node) ListenMultiple(ctx context.Context, selectors []NodeEventSelector, consumerGroup string, listener event.Listener) ([]*event.ListenerTask, func(), error) {
	if !n.IsRoot() {
		return nil, func() {}, lberrors.ErrOnlyAvailableOnRootNode
	}
	if len(selectors) == 0 {
		return nil, func() {}, lberrors.ErrNoAPIsToListenOn
	}

	resolved := make([]transport.EventSelector, 0, len(selectors))
	for _, s := range selectors {
		resolved = append(resolved, transport.EventSelector{APIName: s.Node.APIName(), EventName: s.EventName})
	}
	return n.client.Listen(ctx, resolved, consumerGroup, listener)
}

// NodeEventSelector pairs a Node with one of its event names, the
// root-node analogue of transport.EventSelector expressed in terms of
// path-built nodes rather than raw dotted names.
type NodeEventSelector struct {
	Node      *Node
	EventName string
}
