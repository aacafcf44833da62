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

package client

import (
	"github.com/arvo-run/arvo/config"
	"github.com/arvo-run/arvo/log"
	"github.com/arvo-run/arvo/membership"
)

// Option mutates a Client at construction time.
type Option func(c *Client, poolSize *int)

// WithSeeds supplies static "host:port" node addresses used when no
// membership storage is configured (or while it lists no active nodes).
func WithSeeds(addrs ...string) Option {
	return func(c *Client, _ *int) { c.seeds = addrs }
}

// WithMembership lets the client pick candidate nodes from the membership
// store instead of a static seed list.
func WithMembership(storage membership.Storage) Option {
	return func(c *Client, _ *int) { c.members = storage }
}

// WithLogger overrides the default logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Client, _ *int) { c.logger = logger }
}

// WithRetryBudget overrides how many times a transient failure is retried.
func WithRetryBudget(n int) Option {
	return func(c *Client, _ *int) { c.retryBudget = n }
}

// WithRedirectBudget overrides how many redirects one send may follow.
func WithRedirectBudget(n int) Option {
	return func(c *Client, _ *int) { c.redirectBudget = n }
}

// WithBackoff overrides the retry backoff parameters.
func WithBackoff(b config.Backoff) Option {
	return func(c *Client, _ *int) { c.backoff = b }
}

// WithPoolSize overrides the per-peer connection cap.
func WithPoolSize(n int) Option {
	return func(_ *Client, poolSize *int) { *poolSize = n }
}

// WithNodeOrigin marks every request as node-originated, letting peers
// proxy misrouted requests instead of redirecting.
func WithNodeOrigin() Option {
	return func(c *Client, _ *int) { c.fromNode = true }
}

// WithRemoting shares an existing transport instead of creating one. Used
// by nodes whose internal client reuses the server's outbound pool.
func WithRemoting(remoting *Remoting) Option {
	return func(c *Client, _ *int) { c.remoting = remoting }
}
