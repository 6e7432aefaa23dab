// Package tcp implements transport.RpcTransport and transport.ResultTransport
// directly over a framed TCP connection: requests and their eventual
// replies are multiplexed over a small pool of long-lived connections
// rather than one connection per call.
//
// A single physical connection naturally carries both directions at
// once, so one Transport value plays one of two roles fixed at
// construction: RoleDialer issues calls and receives their replies;
// RoleListener accepts connections, yields incoming requests, and sends
// replies back down the connection a request arrived on. Registering a
// dialer Transport as a bus's rpc/result transport makes it a pure
// caller; registering a listener Transport makes it a pure server. There
// is no event support here — see DESIGN.md's open-question decisions for why.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"lightbus/codec"
	"lightbus/lberrors"
	"lightbus/message"
	"lightbus/transport"
)

// Role fixes what a Transport does with an accepted or dialed connection.
type Role int

const (
	RoleDialer Role = iota
	RoleListener
)

// Transport is a single tcp transport instance playing either RoleDialer
// or RoleListener. It implements both transport.RpcTransport and
// transport.ResultTransport; whichever half a role doesn't use returns
// errWrongRole.
type Transport struct {
	role  Role
	codec codec.Codec

	// Dialer state: one shared connection per address, and a
	// rpc_id-keyed map of callers waiting on a reply.
	pool    *AddressPool
	connsMu sync.Mutex
	conns   map[string]*conn
	pendMu  sync.Mutex
	pending map[string]chan *message.ResultMessage
	seq     uint32

	// Listener state: every accepted connection feeds the same incoming
	// queue, and replies are routed back to whichever connection a
	// request's rpc_id arrived on.
	ln       net.Listener
	incoming chan *message.RpcMessage
	routeMu  sync.Mutex
	routes   map[string]*conn

	closeOnce sync.Once
	closed    chan struct{}
}

type conn struct {
	mu sync.Mutex // serializes frame writes on this connection
	nc net.Conn
}

var errWrongRole = errors.New("tcp: method not supported by this transport's role")

// NewDialerTransport dials out to whichever address AddressPool.Pick
// returns, multiplexing calls over one shared connection per address.
func NewDialerTransport(addresses []string) (*Transport, error) {
	pool, err := NewAddressPool(addresses)
	if err != nil {
		return nil, err
	}
	return &Transport{
		role:    RoleDialer,
		codec:   codec.GetCodec(codec.CodecTypeBinary),
		pool:    pool,
		conns:   make(map[string]*conn),
		pending: make(map[string]chan *message.ResultMessage),
		closed:  make(chan struct{}),
	}, nil
}

// NewListenerTransport opens a listening socket at addr and begins
// accepting connections in the background. Call Close to stop accepting
// and tear down every open connection.
func NewListenerTransport(addr string) (*Transport, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: listen on %s: %w", addr, err)
	}
	t := &Transport{
		role:     RoleListener,
		codec:    codec.GetCodec(codec.CodecTypeBinary),
		ln:       ln,
		incoming: make(chan *message.RpcMessage, 64),
		routes:   make(map[string]*conn),
		closed:   make(chan struct{}),
	}
	go t.acceptLoop()
	return t, nil
}

func (t *Transport) acceptLoop() {
	for {
		nc, err := t.ln.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				continue
			}
		}
		c := &conn{nc: nc}
		go t.serverRecvLoop(c)
	}
}

// serverRecvLoop reads request frames off one accepted connection,
// records which connection to reply to by rpc_id, and hands the decoded
// request to ConsumeRPCs's caller via the shared incoming channel.
func (t *Transport) serverRecvLoop(c *conn) {
	defer c.nc.Close()
	for {
		header, body, err := Decode(c.nc)
		if err != nil {
			return
		}
		if header.MsgType == MsgHeartbeat {
			continue
		}
		var rpcMsg message.RpcMessage
		if err := t.codec.Decode(body, &rpcMsg); err != nil {
			continue
		}

		t.routeMu.Lock()
		t.routes[rpcMsg.RPCID] = c
		t.routeMu.Unlock()

		select {
		case t.incoming <- &rpcMsg:
		case <-t.closed:
			return
		}
	}
}

// clientRecvLoop reads response frames off the shared connection to one
// address and routes each to whichever pending waiter matches its
// rpc_id, keyed by rpc_id directly rather than a numeric sequence since
// the envelope already carries one.
func (t *Transport) clientRecvLoop(c *conn) {
	defer c.nc.Close()
	for {
		header, body, err := Decode(c.nc)
		if err != nil {
			t.failAllPending()
			return
		}
		if header.MsgType == MsgHeartbeat {
			continue
		}
		var resultMsg message.ResultMessage
		if err := t.codec.Decode(body, &resultMsg); err != nil {
			continue
		}

		t.pendMu.Lock()
		ch, ok := t.pending[resultMsg.RPCID]
		if ok {
			delete(t.pending, resultMsg.RPCID)
		}
		t.pendMu.Unlock()
		if ok {
			ch <- &resultMsg
		}
	}
}

// failAllPending unblocks every ReceiveResult call waiting on this
// connection once it's clear no more replies will ever arrive.
func (t *Transport) failAllPending() {
	t.pendMu.Lock()
	defer t.pendMu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

// dialerConn returns the shared connection for address, dialing and
// spawning its receive loop on first use.
func (t *Transport) dialerConn(address string) (*conn, error) {
	t.connsMu.Lock()
	defer t.connsMu.Unlock()

	if c, ok := t.conns[address]; ok {
		return c, nil
	}
	nc, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", address, err)
	}
	c := &conn{nc: nc}
	t.conns[address] = c
	go t.clientRecvLoop(c)
	go t.heartbeatLoop(c)
	return c, nil
}

// heartbeatLoop periodically sends an empty heartbeat frame so a load
// balancer or firewall between dialer and listener doesn't reap the
// connection as idle.
func (t *Transport) heartbeatLoop(c *conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := Encode(c.nc, &Header{CodecType: t.codec.Type(), MsgType: MsgHeartbeat, Seq: t.nextSeq()}, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// CallRPC encodes msg and writes it as a request frame to whichever
// address the pool picks. It returns once the frame is written, not once
// a reply arrives — ReceiveResult is the caller's job, exactly like
// every other transport in this module.
func (t *Transport) CallRPC(ctx context.Context, msg *message.RpcMessage, opts transport.CallOptions) error {
	if t.role != RoleDialer {
		return errWrongRole
	}
	address := t.pool.Pick()
	c, err := t.dialerConn(address)
	if err != nil {
		return err
	}

	body, err := t.codec.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return Encode(c.nc, &Header{CodecType: t.codec.Type(), MsgType: MsgRequest, Seq: t.nextSeq()}, body)
}

// ConsumeRPCs blocks until at least one request has arrived on any
// accepted connection. apiNames is accepted for interface parity but
// unused: a listener Transport serves whatever arrives on its socket
// regardless of api_name, since routing by api_name already happened at
// the registry level when this transport was selected for those APIs.
func (t *Transport) ConsumeRPCs(ctx context.Context, apiNames []string) ([]*message.RpcMessage, error) {
	if t.role != RoleListener {
		return nil, errWrongRole
	}
	select {
	case msg := <-t.incoming:
		return []*message.RpcMessage{msg}, nil
	case <-t.closed:
		return nil, lberrors.ErrSuddenDeath
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetReturnPath reserves the pending-result channel before the caller
// writes its request, the same race-avoidance ordering every transport
// in this module follows: ReceiveResult is always set up to observe a
// reply that arrives concurrently with, or even before, the call
// returns.
func (t *Transport) GetReturnPath(ctx context.Context, msg *message.RpcMessage) (string, error) {
	if t.role != RoleDialer {
		return "", errWrongRole
	}
	ch := make(chan *message.ResultMessage, 1)
	t.pendMu.Lock()
	t.pending[msg.RPCID] = ch
	t.pendMu.Unlock()
	return "tcp://" + msg.RPCID, nil
}

// SendResult writes resultMsg back down whichever connection rpcMsg
// arrived on.
func (t *Transport) SendResult(ctx context.Context, rpcMsg *message.RpcMessage, resultMsg *message.ResultMessage, returnPath string) error {
	if t.role != RoleListener {
		return errWrongRole
	}
	t.routeMu.Lock()
	c, ok := t.routes[rpcMsg.RPCID]
	delete(t.routes, rpcMsg.RPCID)
	t.routeMu.Unlock()
	if !ok {
		return fmt.Errorf("tcp: no route back for rpc_id %s, caller connection is gone", rpcMsg.RPCID)
	}

	body, err := t.codec.Encode(resultMsg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return Encode(c.nc, &Header{CodecType: t.codec.Type(), MsgType: MsgResponse, Seq: t.nextSeq()}, body)
}

// ReceiveResult blocks until the reply registered by GetReturnPath
// arrives, or opts.Timeout elapses.
func (t *Transport) ReceiveResult(ctx context.Context, rpcMsg *message.RpcMessage, returnPath string, opts transport.CallOptions) (*message.ResultMessage, error) {
	if t.role != RoleDialer {
		return nil, errWrongRole
	}
	t.pendMu.Lock()
	ch, ok := t.pending[rpcMsg.RPCID]
	t.pendMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("tcp: no reservation for rpc_id %s, call GetReturnPath first", rpcMsg.RPCID)
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	select {
	case result, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("tcp: connection closed while awaiting result for rpc_id %s", rpcMsg.RPCID)
		}
		return result, nil
	case <-waitCtx.Done():
		t.pendMu.Lock()
		delete(t.pending, rpcMsg.RPCID)
		t.pendMu.Unlock()
		return nil, waitCtx.Err()
	}
}

// Close closes every dialer connection (and the listening socket, in
// RoleListener) and unblocks anything parked in ConsumeRPCs. Connections
// a listener has already accepted are not tracked, so Close leaves them
// open.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.ln != nil {
			t.ln.Close()
		}
		t.connsMu.Lock()
		for _, c := range t.conns {
			c.nc.Close()
		}
		t.connsMu.Unlock()
	})
	return nil
}

func (t *Transport) nextSeq() uint32 {
	return atomic.AddUint32(&t.seq, 1)
}
