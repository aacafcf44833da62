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

package node

import (
	"github.com/arvo-run/arvo/membership"
	"github.com/arvo-run/arvo/object"
	"github.com/arvo-run/arvo/placement"
)

// Option mutates a Node at construction time.
type Option func(*Node)

// WithMembershipStorage overrides the in-memory default.
func WithMembershipStorage(storage membership.Storage) Option {
	return func(n *Node) { n.memberStore = storage }
}

// WithPlacementStorage overrides the in-memory default.
func WithPlacementStorage(storage placement.Storage) Option {
	return func(n *Node) { n.placeStore = storage }
}

// WithStateStorage enables durable managed state. Without it, object state
// lives only as long as the activation.
func WithStateStorage(storage object.StateStorage) Option {
	return func(n *Node) { n.stateStore = storage }
}

// WithMetricsListenAddress serves the Prometheus collectors on addr.
func WithMetricsListenAddress(addr string) Option {
	return func(n *Node) { n.metricsAddr = addr }
}
