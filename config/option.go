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

package config

import (
	"time"

	"github.com/arvo-run/arvo/log"
)

// Option mutates a Config at construction time.
type Option interface {
	apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) apply(cfg *Config) { f(cfg) }

// WithLogger overrides the default logger.
func WithLogger(logger log.Logger) Option {
	return optionFunc(func(c *Config) { c.Logger = logger })
}

// WithHeartbeatInterval overrides the membership heartbeat interval.
func WithHeartbeatInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) { c.HeartbeatInterval = d })
}

// WithProbeInterval overrides the membership probe interval.
func WithProbeInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) { c.ProbeInterval = d })
}

// WithProbeFanout overrides how many peers are probed per probe round.
func WithProbeFanout(n int) Option {
	return optionFunc(func(c *Config) { c.ProbeFanout = n })
}

// WithFailureThreshold overrides how many distinct failures within the
// failure window flip a peer inactive.
func WithFailureThreshold(n int) Option {
	return optionFunc(func(c *Config) { c.FailureThreshold = n })
}

// WithFailureWindow overrides the sliding window failures are counted over.
func WithFailureWindow(d time.Duration) Option {
	return optionFunc(func(c *Config) { c.FailureWindow = d })
}

// WithMailboxCapacity overrides the per-object mailbox capacity; <=0 means
// unbounded.
func WithMailboxCapacity(n int) Option {
	return optionFunc(func(c *Config) { c.MailboxCapacity = n })
}

// WithIdleTTL enables idle passivation after d of mailbox inactivity; <=0
// disables it (the default).
func WithIdleTTL(d time.Duration) Option {
	return optionFunc(func(c *Config) { c.IdleTTL = d })
}

// WithConnectionPoolSize overrides the client's per-peer connection cap.
func WithConnectionPoolSize(n int) Option {
	return optionFunc(func(c *Config) { c.ConnectionPoolSize = n })
}

// WithClientRetryBudget overrides the client's bounded retry count.
func WithClientRetryBudget(n int) Option {
	return optionFunc(func(c *Config) { c.ClientRetryBudget = n })
}

// WithClientRedirectBudget overrides the client's bounded redirect count.
func WithClientRedirectBudget(n int) Option {
	return optionFunc(func(c *Config) { c.ClientRedirectBudget = n })
}

// WithClientBackoff overrides the client's backoff parameters.
func WithClientBackoff(b Backoff) Option {
	return optionFunc(func(c *Config) { c.ClientBackoff = b })
}

// WithPlacementCacheSize overrides the placement directory's local LRU cache size.
func WithPlacementCacheSize(n int) Option {
	return optionFunc(func(c *Config) { c.PlacementCacheSize = n })
}
