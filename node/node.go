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

// Package node assembles one runnable cluster node: membership, placement
// directory, object scheduler, pub/sub broker, server I/O, and the
// node-internal client, wired over the configured stores.
package node

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/arvo-run/arvo/address"
	"github.com/arvo-run/arvo/client"
	"github.com/arvo-run/arvo/config"
	"github.com/arvo-run/arvo/errors"
	"github.com/arvo-run/arvo/log"
	"github.com/arvo-run/arvo/membership"
	"github.com/arvo-run/arvo/metrics"
	"github.com/arvo-run/arvo/object"
	"github.com/arvo-run/arvo/placement"
	"github.com/arvo-run/arvo/pubsub"
	"github.com/arvo-run/arvo/scheduler"
	"github.com/arvo-run/arvo/server"
	"github.com/arvo-run/arvo/storage/memory"
)

// Node is one server process of the cluster.
type Node struct {
	cfg      *config.Config
	logger   log.Logger
	registry *object.Registry
	appData  *object.AppData

	memberStore membership.Storage
	placeStore  placement.Storage
	stateStore  object.StateStorage
	metricsAddr string

	self      string
	mets      *metrics.Metrics
	remoting  *client.Remoting
	members   *membership.Protocol
	directory *placement.Directory
	sched     *scheduler.Scheduler
	broker    *pubsub.Broker
	srv       *server.Server
	internal  *client.Client

	metricsSrv  *http.Server
	watchCancel context.CancelFunc
	pumpStop    chan struct{}

	started *atomic.Bool
}

// New creates a Node. Stores default to the in-memory implementations,
// which makes a single-process cluster runnable with no external service.
func New(cfg *config.Config, registry *object.Registry, opts ...Option) *Node {
	n := &Node{
		cfg:         cfg,
		logger:      cfg.Logger,
		registry:    registry,
		appData:     object.NewAppData(),
		memberStore: memory.NewMembershipStore(),
		placeStore:  memory.NewPlacementStore(),
		started:     atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// AppData returns the container of shared handles passed to every handler.
func (n *Node) AppData() *object.AppData {
	return n.appData
}

// Addr returns the address the node listens on, available after Start.
func (n *Node) Addr() string {
	return n.self
}

// Start binds the listener, announces membership, and begins serving.
func (n *Node) Start(ctx context.Context) error {
	if !n.started.CompareAndSwap(false, true) {
		return nil
	}

	ln, err := net.Listen("tcp", n.cfg.ListenAddress)
	if err != nil {
		return err
	}
	n.self = ln.Addr().String()
	selfAddr, err := address.Parse(n.self)
	if err != nil {
		_ = ln.Close()
		return err
	}

	n.mets = metrics.New(n.cfg.Name)
	n.remoting = client.NewRemoting(n.cfg.ConnectionPoolSize, n.logger)
	n.broker = pubsub.NewBroker()

	n.members = membership.New(selfAddr, n.memberStore,
		membership.WithLogger(n.logger),
		membership.WithHeartbeatInterval(n.cfg.HeartbeatInterval),
		membership.WithProbeInterval(n.cfg.ProbeInterval),
		membership.WithProbeFanout(n.cfg.ProbeFanout),
		membership.WithFailureThreshold(n.cfg.FailureThreshold),
		membership.WithFailureWindow(n.cfg.FailureWindow),
		membership.WithPinger(n.remoting.Ping),
		membership.WithOnPeerDown(n.onPeerDown),
		membership.WithOnSelfDeactivate(func() {
			n.logger.Errorf("node=%s lost its heartbeat store, refusing new requests", n.self)
		}),
	)

	n.directory, err = placement.NewDirectory(n.self, n.placeStore, n.members, n.cfg.PlacementCacheSize, n.logger)
	if err != nil {
		_ = ln.Close()
		return err
	}

	n.sched = scheduler.New(n.cfg, n.registry, n.appData, n.directory, n.stateStore, n.mets)
	n.srv = server.New(n.cfg, ln, n.sched, n.directory, n.members, n.broker, n.remoting, n.mets)

	n.internal, err = client.New(
		client.WithLogger(n.logger),
		client.WithMembership(n.memberStore),
		client.WithSeeds(n.self),
		client.WithRemoting(n.remoting),
		client.WithNodeOrigin(),
		client.WithRetryBudget(n.cfg.ClientRetryBudget),
		client.WithRedirectBudget(n.cfg.ClientRedirectBudget),
		client.WithBackoff(n.cfg.ClientBackoff),
	)
	if err != nil {
		_ = ln.Close()
		return err
	}

	if err := n.members.Start(ctx); err != nil {
		_ = ln.Close()
		return err
	}
	n.srv.Start()
	n.pumpStop = make(chan struct{})
	n.watchEvictions()

	if n.metricsAddr != "" {
		n.metricsSrv = &http.Server{Addr: n.metricsAddr, Handler: n.mets.Handler()}
		go func() {
			if err := n.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				n.logger.Warnf("metrics server: %v", err)
			}
		}()
	}

	n.logger.Infof("node=%s (%s) started", n.cfg.Name, n.self)
	return nil
}

// Stop drains the node: the server stops accepting, every local object
// deactivates and releases its placement row, and the membership row is
// flipped inactive.
func (n *Node) Stop(ctx context.Context) error {
	if !n.started.CompareAndSwap(true, false) {
		return nil
	}

	var errs error
	if n.watchCancel != nil {
		n.watchCancel()
	}
	close(n.pumpStop)

	n.srv.Stop()
	errs = multierr.Append(errs, n.sched.Shutdown(ctx))

	leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	errs = multierr.Append(errs, n.members.Leave(leaveCtx))
	cancel()
	n.members.Stop()

	if n.metricsSrv != nil {
		errs = multierr.Append(errs, n.metricsSrv.Close())
	}
	n.broker.Close()
	n.remoting.Close()

	n.logger.Infof("node=%s (%s) stopped", n.cfg.Name, n.self)
	return errs
}

// Send delivers a message to (typeName, id) from inside this node. A
// locally hosted object short-circuits the network but still goes through
// the scheduler's mailbox.
func (n *Node) Send(ctx context.Context, typeName, id, messageType string, payload []byte) ([]byte, error) {
	if n.sched.IsLocal(typeName, id) {
		res := n.sched.Dispatch(ctx, typeName, id, messageType, payload)
		if err := res.Err(); err != nil {
			if stderrIsRoutable(err) {
				// the local instance is gone or moving: fall through to
				// the routed path
				return n.internal.Send(ctx, typeName, id, messageType, payload)
			}
			return nil, err
		}
		return res.Payload, nil
	}
	return n.internal.Send(ctx, typeName, id, messageType, payload)
}

func stderrIsRoutable(err error) bool {
	return stderrors.Is(err, errors.ErrObjectShuttingDown) || stderrors.Is(err, errors.ErrNotOwner)
}

// Publish fans payload out on subject: locally, and to every other active
// node best-effort.
func (n *Node) Publish(ctx context.Context, subject string, payload []byte) error {
	n.broker.Publish(subject, payload)

	peers, err := n.members.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, peer := range peers {
		peerAddr := peer.String()
		if peerAddr == n.self {
			continue
		}
		if err := n.remoting.PublishTo(ctx, peerAddr, subject, payload, true); err != nil {
			n.logger.Debugf("publish fan-out to %s: %v", peerAddr, err)
		}
	}
	return nil
}

// SubscribeObject subscribes the service object (typeName, id) to subject.
// Deliveries arrive through the object's own mailbox as synthetic
// messages, so they never race a handler. The returned subscriber exposes
// the drop counter.
func (n *Node) SubscribeObject(subject, typeName, id string) pubsub.Subscriber {
	sub := n.broker.AddSubscriber(n.cfg.MailboxCapacity)
	n.broker.Subscribe(sub, subject)

	go func() {
		for {
			select {
			case <-n.pumpStop:
				return
			case msg, ok := <-sub.C():
				if !ok {
					return
				}
				if err := n.sched.DeliverPublish(typeName, id, msg.Subject, msg.Payload); err != nil {
					n.logger.Debugf("deliver %q to %s/%s: %v", msg.Subject, typeName, id, err)
				}
			}
		}
	}()
	return sub
}

// Broker exposes the local pub/sub broker.
func (n *Node) Broker() *pubsub.Broker {
	return n.broker
}

// Scheduler exposes the local scheduler, mainly for tests and health.
func (n *Node) Scheduler() *scheduler.Scheduler {
	return n.sched
}

// Membership exposes the membership protocol read side.
func (n *Node) Membership() *membership.Protocol {
	return n.members
}

// onPeerDown is invoked by the membership protocol after flipping a peer
// inactive; it clears the peer's placement rows so the next lookup
// reallocates.
func (n *Node) onPeerDown(peer address.Address) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.directory.Evict(ctx, peer.String()); err != nil {
		n.logger.Warnf("evict placement rows of dead peer %s: %v", peer, err)
	}
	if n.mets != nil {
		n.mets.ProbeFailures.Inc()
	}
}

// watchEvictions observes the placement store: every change to a row drops
// the directory's cached address for it, and when a locally hosted row is
// reassigned to another node, the local instance is told to shut down
// without rewriting the row.
func (n *Node) watchEvictions() {
	ctx, cancel := context.WithCancel(context.Background())
	n.watchCancel = cancel

	events, ok := n.directory.Watch(ctx)
	if !ok {
		return
	}
	go func() {
		for event := range events {
			n.directory.Invalidate(event.TypeName, event.ObjectID)
			if !event.Removed && event.Address != n.self && n.sched.IsLocal(event.TypeName, event.ObjectID) {
				n.logger.Infof("placement for %s/%s moved to %s, evicting local instance", event.TypeName, event.ObjectID, event.Address)
				n.sched.EvictLocal(event.TypeName, event.ObjectID)
			}
		}
	}()
}
