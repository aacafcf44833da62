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

// Package server accepts framed TCP connections, decodes request envelopes,
// and routes each one: dispatch to the local scheduler, proxy to the owning
// peer on behalf of another node, or redirect the client there.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/arvo-run/arvo/address"
	"github.com/arvo-run/arvo/client"
	"github.com/arvo-run/arvo/config"
	"github.com/arvo-run/arvo/log"
	"github.com/arvo-run/arvo/membership"
	"github.com/arvo-run/arvo/metrics"
	"github.com/arvo-run/arvo/placement"
	"github.com/arvo-run/arvo/pubsub"
	"github.com/arvo-run/arvo/scheduler"
	"github.com/arvo-run/arvo/wire"
)

// routeAttempts bounds the lookup/evict/retry loop when placement names a
// dead node.
const routeAttempts = 3

// Server is the per-node I/O front end.
type Server struct {
	cfg       *config.Config
	logger    log.Logger
	self      string
	scheduler *scheduler.Scheduler
	directory *placement.Directory
	members   *membership.Protocol
	broker    *pubsub.Broker
	remoting  *client.Remoting
	metrics   *metrics.Metrics

	ln net.Listener

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	stopping *atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a Server bound to the listener's address. mets may be nil.
func New(cfg *config.Config, ln net.Listener, sched *scheduler.Scheduler, directory *placement.Directory, members *membership.Protocol, broker *pubsub.Broker, remoting *client.Remoting, mets *metrics.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		logger:    cfg.Logger,
		self:      ln.Addr().String(),
		scheduler: sched,
		directory: directory,
		members:   members,
		broker:    broker,
		remoting:  remoting,
		metrics:   mets,
		ln:        ln,
		conns:     make(map[net.Conn]struct{}),
		stopping:  atomic.NewBool(false),
		stopCh:    make(chan struct{}),
	}
}

// Addr returns the address the server accepts connections on.
func (s *Server) Addr() string {
	return s.self
}

// Start spawns the accept loop.
func (s *Server) Start() {
	s.wg.Add(1)
	go s.acceptLoop()
	s.logger.Infof("server listening on %s", s.self)
}

// Stop closes the listener and every open connection, then waits for the
// connection handlers to finish.
func (s *Server) Stop() {
	if !s.stopping.CompareAndSwap(false, true) {
		return
	}
	close(s.stopCh)
	_ = s.ln.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		raw, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Warnf("accept on %s: %v", s.self, err)
				continue
			}
		}

		s.connsMu.Lock()
		s.conns[raw] = struct{}{}
		s.connsMu.Unlock()

		s.wg.Add(1)
		go s.handleConn(raw)
	}
}

func (s *Server) handleConn(raw net.Conn) {
	defer s.wg.Done()
	conn := newServerConn(raw)
	defer func() {
		conn.cleanup(s.broker)
		_ = raw.Close()
		s.connsMu.Lock()
		delete(s.conns, raw)
		s.connsMu.Unlock()
	}()

	for {
		frame, err := wire.ReadFrame(raw)
		if err != nil {
			return
		}

		switch frame.Kind {
		case wire.KindPing:
			_ = conn.write(&wire.Frame{RequestID: frame.RequestID, Kind: wire.KindPong})
		case wire.KindRequest:
			if frame.Request == nil {
				continue
			}
			s.wg.Add(1)
			go s.handleRequest(conn, frame.RequestID, frame.Request)
		case wire.KindPublish:
			if frame.Publish != nil {
				s.handlePublish(frame.Publish)
			}
		case wire.KindSubscribe:
			if frame.Subscribe != nil {
				conn.subscribe(s.broker, frame.Subscribe.Subject)
			}
		case wire.KindUnsubscribe:
			if frame.Subscribe != nil {
				conn.unsubscribe(s.broker, frame.Subscribe.Subject)
			}
		case wire.KindShutdown:
			if frame.Shutdown != nil {
				s.scheduler.EvictLocal(frame.Shutdown.TypeName, frame.Shutdown.ID)
			}
		default:
			s.logger.Warnf("unexpected frame kind %s from %s", frame.Kind, raw.RemoteAddr())
		}
	}
}

func (s *Server) handleRequest(conn *serverConn, requestID uint64, req *wire.Request) {
	defer s.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res := s.route(ctx, req)
	if err := conn.write(&wire.Frame{RequestID: requestID, Kind: wire.KindResponse, Response: res}); err != nil {
		s.logger.Debugf("write response to %s: %v", conn.raw.RemoteAddr(), err)
	}
}

// route resolves where (req.TypeName, req.ID) lives and acts on it: local
// dispatch when this node owns the row, proxy when another node asked, a
// redirect when a client did. A row naming an inactive node is evicted and
// resolution restarts.
func (s *Server) route(ctx context.Context, req *wire.Request) *wire.Response {
	if s.stopping.Load() || s.members.Deactivated() {
		return wire.ShuttingDown()
	}

	for attempt := 0; attempt < routeAttempts; attempt++ {
		addr, ok, err := s.directory.Lookup(ctx, req.TypeName, req.ID)
		if err != nil {
			return wire.FromError(err, nil)
		}
		if !ok {
			if addr, err = s.directory.Allocate(ctx, req.TypeName, req.ID); err != nil {
				return wire.FromError(err, nil)
			}
		}

		if addr == s.self {
			return s.scheduler.Dispatch(ctx, req.TypeName, req.ID, req.MessageType, req.Payload)
		}

		peer, err := address.Parse(addr)
		if err == nil {
			active, activeErr := s.members.IsActive(ctx, peer)
			if activeErr == nil && !active {
				if evictErr := s.directory.Evict(ctx, addr); evictErr != nil {
					s.logger.Warnf("evict dead node %s: %v", addr, evictErr)
				}
				continue
			}
		}

		if req.FromNode && !req.Proxied {
			return s.proxy(ctx, addr, req)
		}

		if s.metrics != nil {
			s.metrics.Redirects.Inc()
		}
		return wire.Redirect(addr)
	}
	return wire.InternalErr(wire.CodeInternal, "placement did not converge")
}

// proxy forwards a node-originated request to the owning peer and relays
// its response. A redirect coming back from the peer is chased here, inside
// the proxy hop, so the original caller never sees a chain longer than one.
func (s *Server) proxy(ctx context.Context, addr string, req *wire.Request) *wire.Response {
	forwarded := *req
	forwarded.Proxied = true

	if s.metrics != nil {
		s.metrics.ProxiedRequests.Inc()
	}

	for hop := 0; hop <= s.cfg.ServerProxyRedirectBudget; hop++ {
		res, err := s.remoting.Request(ctx, addr, &forwarded)
		if err != nil {
			s.directory.Invalidate(req.TypeName, req.ID)
			return wire.FromError(err, nil)
		}
		if res.Status != wire.StatusRedirect {
			return res
		}
		s.directory.Invalidate(req.TypeName, req.ID)
		addr = res.RedirectTo
	}
	return wire.InternalErr(wire.CodeInternal, "proxy redirect budget exhausted")
}

// handlePublish fans a publish out locally and, unless it was already
// relayed by a peer, to every other active node.
func (s *Server) handlePublish(pub *wire.Publish) {
	s.broker.Publish(pub.Subject, pub.Payload)
	if pub.Forwarded {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	peers, err := s.members.ListActive(ctx)
	if err != nil {
		s.logger.Warnf("publish fan-out: list active: %v", err)
		return
	}
	for _, peer := range peers {
		peerAddr := peer.String()
		if peerAddr == s.self {
			continue
		}
		if err := s.remoting.PublishTo(ctx, peerAddr, pub.Subject, pub.Payload, true); err != nil {
			s.logger.Debugf("publish fan-out to %s: %v", peerAddr, err)
		}
	}
}
