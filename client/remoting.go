// MIT License
//
// Copyright (c) 2023-2026 Arvo Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package client implements the remote caller side of the runtime: a
// connection-pooled, request-multiplexed transport over the framed TCP
// protocol, and on top of it the cluster client with placement caching,
// redirect handling, and bounded retries.
package client

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/arvo-run/arvo/address"
	"github.com/arvo-run/arvo/errors"
	"github.com/arvo-run/arvo/log"
	"github.com/arvo-run/arvo/wire"
)

const dialTimeout = 3 * time.Second

// Remoting is the shared transport layer: it pools up to poolSize framed
// connections per peer and multiplexes concurrent requests on each
// connection by request id.
type Remoting struct {
	logger   log.Logger
	poolSize int

	poolsMu sync.Mutex
	pools   map[string]*pool

	subsMu sync.RWMutex
	subs   map[string][]chan []byte

	closed *atomic.Bool
}

// NewRemoting creates a Remoting with the given per-peer connection cap.
func NewRemoting(poolSize int, logger log.Logger) *Remoting {
	if poolSize <= 0 {
		poolSize = 8
	}
	return &Remoting{
		logger:   logger,
		poolSize: poolSize,
		pools:    make(map[string]*pool),
		subs:     make(map[string][]chan []byte),
		closed:   atomic.NewBool(false),
	}
}

// Request sends req to addr and awaits the matching response. Connection
// failures surface as ErrConnectionLost.
func (r *Remoting) Request(ctx context.Context, addr string, req *wire.Request) (*wire.Response, error) {
	frame, err := r.roundTrip(ctx, addr, &wire.Frame{Kind: wire.KindRequest, Request: req})
	if err != nil {
		return nil, err
	}
	if frame.Response == nil {
		return nil, errors.ErrConnectionLost
	}
	return frame.Response, nil
}

// Ping checks reachability of addr over the wire protocol.
func (r *Remoting) Ping(ctx context.Context, addr address.Address) error {
	frame, err := r.roundTrip(ctx, addr.String(), &wire.Frame{Kind: wire.KindPing})
	if err != nil {
		return err
	}
	if frame.Kind != wire.KindPong {
		return errors.ErrConnectionLost
	}
	return nil
}

// PublishTo sends a publish frame to addr. Fire-and-forget.
func (r *Remoting) PublishTo(ctx context.Context, addr, subject string, payload []byte, forwarded bool) error {
	conn, err := r.conn(ctx, addr)
	if err != nil {
		return err
	}
	return conn.write(&wire.Frame{
		Kind:    wire.KindPublish,
		Publish: &wire.Publish{Subject: subject, Payload: payload, Forwarded: forwarded},
	})
}

// SendShutdown tells addr to deactivate its local instance of (typeName, id).
func (r *Remoting) SendShutdown(ctx context.Context, addr, typeName, id string) error {
	conn, err := r.conn(ctx, addr)
	if err != nil {
		return err
	}
	return conn.write(&wire.Frame{
		Kind:     wire.KindShutdown,
		Shutdown: &wire.Shutdown{TypeName: typeName, ID: id},
	})
}

// Subscribe registers delivery of subject publishes from addr into the
// returned channel. The channel is buffered; deliveries that find it full
// are dropped.
func (r *Remoting) Subscribe(ctx context.Context, addr, subject string) (<-chan []byte, error) {
	conn, err := r.conn(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := conn.write(&wire.Frame{Kind: wire.KindSubscribe, Subscribe: &wire.Subscribe{Subject: subject}}); err != nil {
		return nil, err
	}

	deliveries := make(chan []byte, 64)
	r.subsMu.Lock()
	r.subs[subject] = append(r.subs[subject], deliveries)
	r.subsMu.Unlock()
	return deliveries, nil
}

// Close tears down every pooled connection.
func (r *Remoting) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.poolsMu.Lock()
	for _, p := range r.pools {
		p.close()
	}
	r.pools = make(map[string]*pool)
	r.poolsMu.Unlock()
}

func (r *Remoting) roundTrip(ctx context.Context, addr string, frame *wire.Frame) (*wire.Frame, error) {
	conn, err := r.conn(ctx, addr)
	if err != nil {
		return nil, err
	}
	return conn.roundTrip(ctx, frame)
}

func (r *Remoting) conn(ctx context.Context, addr string) (*rconn, error) {
	if r.closed.Load() {
		return nil, errors.ErrClosed
	}
	r.poolsMu.Lock()
	p, ok := r.pools[addr]
	if !ok {
		p = newPool(addr, r.poolSize, r)
		r.pools[addr] = p
	}
	r.poolsMu.Unlock()
	return p.get(ctx)
}

func (r *Remoting) deliver(subject string, payload []byte) {
	r.subsMu.RLock()
	channels := r.subs[subject]
	r.subsMu.RUnlock()
	for _, ch := range channels {
		select {
		case ch <- payload:
		default:
		}
	}
}

// pool is a lazily-dialed, round-robin set of connections to one peer.
type pool struct {
	addr     string
	remoting *Remoting

	mu    sync.Mutex
	conns []*rconn
	next  int
}

func newPool(addr string, size int, remoting *Remoting) *pool {
	return &pool{
		addr:     addr,
		remoting: remoting,
		conns:    make([]*rconn, size),
	}
}

func (p *pool) get(ctx context.Context) (*rconn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	index := p.next % len(p.conns)
	p.next++
	conn := p.conns[index]
	if conn != nil && !conn.isClosed() {
		return conn, nil
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return nil, errors.NewConnectionLost(p.addr, err)
	}
	conn = newRConn(raw, p.remoting)
	p.conns[index] = conn
	return conn, nil
}

func (p *pool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, conn := range p.conns {
		if conn != nil {
			conn.close(errors.ErrClosed)
		}
	}
}

// rconn is one framed connection with a response demultiplexer.
type rconn struct {
	raw      net.Conn
	remoting *Remoting

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan *wire.Frame

	reqID  *atomic.Uint64
	closed chan struct{}
	once   sync.Once
}

func newRConn(raw net.Conn, remoting *Remoting) *rconn {
	conn := &rconn{
		raw:      raw,
		remoting: remoting,
		pending:  make(map[uint64]chan *wire.Frame),
		reqID:    atomic.NewUint64(0),
		closed:   make(chan struct{}),
	}
	go conn.readLoop()
	return conn
}

func (c *rconn) roundTrip(ctx context.Context, frame *wire.Frame) (*wire.Frame, error) {
	frame.RequestID = c.reqID.Inc()
	waiter := make(chan *wire.Frame, 1)

	c.pendingMu.Lock()
	c.pending[frame.RequestID] = waiter
	c.pendingMu.Unlock()

	if err := c.write(frame); err != nil {
		c.unregister(frame.RequestID)
		c.close(err)
		return nil, errors.NewConnectionLost(c.raw.RemoteAddr().String(), err)
	}

	select {
	case reply := <-waiter:
		return reply, nil
	case <-ctx.Done():
		// drop the registration: a late response is discarded by the
		// demultiplexer
		c.unregister(frame.RequestID)
		return nil, ctx.Err()
	case <-c.closed:
		c.unregister(frame.RequestID)
		return nil, errors.NewConnectionLost(c.raw.RemoteAddr().String(), nil)
	}
}

func (c *rconn) write(frame *wire.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteFrame(c.raw, frame)
}

func (c *rconn) readLoop() {
	for {
		frame, err := wire.ReadFrame(c.raw)
		if err != nil {
			c.close(err)
			return
		}
		switch frame.Kind {
		case wire.KindResponse, wire.KindPong:
			c.pendingMu.Lock()
			waiter, ok := c.pending[frame.RequestID]
			if ok {
				delete(c.pending, frame.RequestID)
			}
			c.pendingMu.Unlock()
			if ok {
				waiter <- frame
			}
		case wire.KindPublish:
			if frame.Publish != nil {
				c.remoting.deliver(frame.Publish.Subject, frame.Publish.Payload)
			}
		default:
			// unexpected kinds on a client connection are dropped
		}
	}
}

func (c *rconn) unregister(requestID uint64) {
	c.pendingMu.Lock()
	delete(c.pending, requestID)
	c.pendingMu.Unlock()
}

func (c *rconn) close(err error) {
	c.once.Do(func() {
		close(c.closed)
		_ = c.raw.Close()
		if err != nil && c.remoting.logger != nil {
			c.remoting.logger.Debugf("connection to %s closed: %v", c.raw.RemoteAddr(), err)
		}
	})
}

func (c *rconn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
