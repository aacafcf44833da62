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

// Package membership maintains the set of live nodes in a pluggable
// membership store: each node heartbeats its own entry, probes a random
// subset of its peers, and flips persistently unreachable peers inactive so
// that placement decisions target only reachable nodes.
package membership

import (
	"context"
	"time"

	"github.com/arvo-run/arvo/address"
)

// Entry is one row of the membership store.
type Entry struct {
	Address  address.Address
	LastSeen time.Time
	Active   bool
}

// Failure is one row of the failures log: reporter observed addr
// unreachable at the given time.
type Failure struct {
	Address  address.Address
	Reporter address.Address
	Time     time.Time
}

// Event is a change notification from a watching store.
type Event struct {
	Address address.Address
	Active  bool
}

// Storage is the membership store contract. Write conflicts resolve by
// last-writer-wins on LastSeen.
type Storage interface {
	// Upsert writes the entry, replacing any prior row for the same address.
	Upsert(ctx context.Context, entry Entry) error
	// Get returns the entry for addr, or nil when none exists.
	Get(ctx context.Context, addr address.Address) (*Entry, error)
	// ListActive returns every entry currently flagged active.
	ListActive(ctx context.Context) ([]Entry, error)
	// SetActive flips the active flag of an existing entry.
	SetActive(ctx context.Context, addr address.Address, active bool) error
	// NotifyFailure appends a probe failure observed by reporter.
	NotifyFailure(ctx context.Context, addr, reporter address.Address, at time.Time) error
	// Failures returns the failures recorded for addr at or after since.
	Failures(ctx context.Context, addr address.Address, since time.Time) ([]Failure, error)
	// ClearFailures drops the failures log for addr.
	ClearFailures(ctx context.Context, addr address.Address) error
}

// Watcher is implemented by stores that can push change notifications. The
// protocol falls back to polling when the store cannot watch.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Event, error)
}
