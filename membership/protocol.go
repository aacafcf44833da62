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

package membership

import (
	"context"
	"math/rand"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/flowchartsman/retry"
	"go.uber.org/atomic"

	"github.com/arvo-run/arvo/address"
	"github.com/arvo-run/arvo/errors"
	"github.com/arvo-run/arvo/log"
)

// Pinger issues a lightweight reachability check against a peer.
type Pinger func(ctx context.Context, addr address.Address) error

// Protocol runs the heartbeat and probe loops for one node. The store is
// the source of truth for liveness; probes merely decide writes.
type Protocol struct {
	self    address.Address
	storage Storage
	logger  log.Logger

	heartbeatInterval time.Duration
	probeInterval     time.Duration
	probeFanout       int
	failureThreshold  int
	failureWindow     time.Duration

	pinger           Pinger
	onPeerDown       func(addr address.Address)
	onSelfDeactivate func()

	lastWriteOK atomic.Time
	deactivated atomic.Bool

	started atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Protocol for the node listening on self.
func New(self address.Address, storage Storage, opts ...Option) *Protocol {
	p := &Protocol{
		self:              self,
		storage:           storage,
		logger:            log.DefaultLogger,
		heartbeatInterval: time.Second,
		probeInterval:     5 * time.Second,
		probeFanout:       3,
		failureThreshold:  3,
		failureWindow:     30 * time.Second,
		pinger: func(context.Context, address.Address) error {
			return nil
		},
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start announces this node and spawns the heartbeat and probe loops.
// Announcement is idempotent: restarting the same address refreshes its row
// rather than duplicating it.
func (p *Protocol) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return nil
	}

	retrier := retry.NewRetrier(5, 100*time.Millisecond, time.Second)
	if err := retrier.RunContext(ctx, func(ctx context.Context) error {
		return p.announce(ctx)
	}); err != nil {
		return errors.NewStoreUnavailable("membership", err)
	}
	p.lastWriteOK.Store(time.Now())

	p.wg.Add(2)
	go p.heartbeatLoop()
	go p.probeLoop()

	p.logger.Infof("membership started for node=%s", p.self)
	return nil
}

// Stop halts the loops. It does not flip the node inactive; callers that
// shut down gracefully use Leave first.
func (p *Protocol) Stop() {
	if !p.started.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.wg.Wait()
}

// Leave marks this node inactive in the store.
func (p *Protocol) Leave(ctx context.Context) error {
	return p.storage.SetActive(ctx, p.self, false)
}

// Deactivated reports whether this node failed to write its own heartbeat
// for at least the failure window and should stop accepting requests.
func (p *Protocol) Deactivated() bool {
	return p.deactivated.Load()
}

// ListActive returns the addresses currently flagged active.
func (p *Protocol) ListActive(ctx context.Context) ([]address.Address, error) {
	entries, err := p.storage.ListActive(ctx)
	if err != nil {
		return nil, errors.NewStoreUnavailable("membership", err)
	}
	addrs := make([]address.Address, 0, len(entries))
	for _, entry := range entries {
		addrs = append(addrs, entry.Address)
	}
	return addrs, nil
}

// ActiveSet returns the active addresses as a set snapshot, keyed by their
// canonical string form.
func (p *Protocol) ActiveSet(ctx context.Context) (mapset.Set[string], error) {
	addrs, err := p.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	set := mapset.NewSet[string]()
	for _, addr := range addrs {
		set.Add(addr.String())
	}
	return set, nil
}

// IsActive reports whether addr is currently flagged active.
func (p *Protocol) IsActive(ctx context.Context, addr address.Address) (bool, error) {
	entry, err := p.storage.Get(ctx, addr)
	if err != nil {
		return false, errors.NewStoreUnavailable("membership", err)
	}
	return entry != nil && entry.Active, nil
}

// WatchChanges streams (address, active) transitions. Stores that cannot
// watch are polled at the probe interval; the stream closes when ctx ends.
func (p *Protocol) WatchChanges(ctx context.Context) (<-chan Event, error) {
	if watcher, ok := p.storage.(Watcher); ok {
		return watcher.Watch(ctx)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		known := make(map[string]bool)
		ticker := time.NewTicker(p.probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				entries, err := p.storage.ListActive(ctx)
				if err != nil {
					continue
				}
				current := make(map[string]bool, len(entries))
				for _, entry := range entries {
					current[entry.Address.String()] = true
					if !known[entry.Address.String()] {
						events <- Event{Address: entry.Address, Active: true}
					}
				}
				for key := range known {
					if !current[key] {
						addr, err := address.Parse(key)
						if err != nil {
							continue
						}
						events <- Event{Address: addr, Active: false}
					}
				}
				known = current
			}
		}
	}()
	return events, nil
}

func (p *Protocol) announce(ctx context.Context) error {
	if err := p.storage.Upsert(ctx, Entry{Address: p.self, LastSeen: time.Now(), Active: true}); err != nil {
		return err
	}
	return p.storage.ClearFailures(ctx, p.self)
}

func (p *Protocol) heartbeatLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.heartbeat()
		}
	}
}

func (p *Protocol) heartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), p.heartbeatInterval)
	defer cancel()

	entry, err := p.storage.Get(ctx, p.self)
	if err == nil && (entry == nil || !entry.Active) {
		// our row was rewritten externally: re-announce and start clean
		if err := p.announce(ctx); err == nil {
			p.logger.Warnf("node=%s re-announced after external deactivation", p.self)
			p.lastWriteOK.Store(time.Now())
		}
		return
	}

	err = p.storage.Upsert(ctx, Entry{Address: p.self, LastSeen: time.Now(), Active: true})
	if err != nil {
		p.logger.Warnf("node=%s heartbeat write failed: %v", p.self, err)
		if time.Since(p.lastWriteOK.Load()) >= p.failureWindow && p.deactivated.CompareAndSwap(false, true) {
			p.logger.Errorf("node=%s could not heartbeat for %s, self-deactivating", p.self, p.failureWindow)
			if p.onSelfDeactivate != nil {
				p.onSelfDeactivate()
			}
		}
		return
	}
	p.lastWriteOK.Store(time.Now())
	p.deactivated.Store(false)
}

func (p *Protocol) probeLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.probe()
		}
	}
}

func (p *Protocol) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), p.probeInterval)
	defer cancel()

	entries, err := p.storage.ListActive(ctx)
	if err != nil {
		p.logger.Warnf("node=%s probe: list active failed: %v", p.self, err)
		return
	}

	peers := make([]address.Address, 0, len(entries))
	for _, entry := range entries {
		if !entry.Address.Equal(p.self) {
			peers = append(peers, entry.Address)
		}
	}
	rand.Shuffle(len(peers), func(i, j int) {
		peers[i], peers[j] = peers[j], peers[i]
	})
	if len(peers) > p.probeFanout {
		peers = peers[:p.probeFanout]
	}

	for _, peer := range peers {
		if err := p.probeOne(ctx, peer); err != nil {
			p.logger.Debugf("node=%s probe of %s failed: %v", p.self, peer, err)
		}
	}
}

func (p *Protocol) probeOne(ctx context.Context, peer address.Address) error {
	pingCtx, cancel := context.WithTimeout(ctx, p.heartbeatInterval)
	err := p.pinger(pingCtx, peer)
	cancel()
	if err == nil {
		return nil
	}

	now := time.Now()
	if err := p.storage.NotifyFailure(ctx, peer, p.self, now); err != nil {
		return err
	}

	failures, err := p.storage.Failures(ctx, peer, now.Add(-p.failureWindow))
	if err != nil {
		return err
	}
	reporters := mapset.NewSet[string]()
	for _, failure := range failures {
		reporters.Add(failure.Reporter.String())
	}
	if reporters.Cardinality() >= p.failureThreshold {
		if err := p.storage.SetActive(ctx, peer, false); err != nil {
			return err
		}
		p.logger.Warnf("node=%s marked peer=%s inactive after %d failures", p.self, peer, reporters.Cardinality())
		if p.onPeerDown != nil {
			p.onPeerDown(peer)
		}
	}
	return nil
}
