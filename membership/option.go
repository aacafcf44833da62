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
	"time"

	"github.com/arvo-run/arvo/address"
	"github.com/arvo-run/arvo/log"
)

// Option mutates a Protocol at construction time.
type Option func(*Protocol)

// WithLogger overrides the default logger.
func WithLogger(logger log.Logger) Option {
	return func(p *Protocol) { p.logger = logger }
}

// WithHeartbeatInterval overrides how often this node refreshes its own row.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(p *Protocol) { p.heartbeatInterval = d }
}

// WithProbeInterval overrides how often this node probes its peers.
func WithProbeInterval(d time.Duration) Option {
	return func(p *Protocol) { p.probeInterval = d }
}

// WithProbeFanout overrides how many peers are probed per round.
func WithProbeFanout(n int) Option {
	return func(p *Protocol) { p.probeFanout = n }
}

// WithFailureThreshold overrides how many distinct reporters within the
// failure window flip a peer inactive.
func WithFailureThreshold(n int) Option {
	return func(p *Protocol) { p.failureThreshold = n }
}

// WithFailureWindow overrides the sliding window failures count over.
func WithFailureWindow(d time.Duration) Option {
	return func(p *Protocol) { p.failureWindow = d }
}

// WithPinger supplies the reachability check used by probes.
func WithPinger(pinger Pinger) Option {
	return func(p *Protocol) { p.pinger = pinger }
}

// WithOnPeerDown registers a callback invoked after this node flips a peer
// inactive; the placement directory uses it to evict the peer's rows.
func WithOnPeerDown(fn func(addr address.Address)) Option {
	return func(p *Protocol) { p.onPeerDown = fn }
}

// WithOnSelfDeactivate registers a callback invoked when this node could not
// write its own heartbeat for the failure window.
func WithOnSelfDeactivate(fn func()) Option {
	return func(p *Protocol) { p.onSelfDeactivate = fn }
}
