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

// Package placement decides which node hosts each service object. A
// Directory fronts the placement store with a local LRU cache and collapses
// concurrent local allocations for the same identity into one store
// round-trip.
package placement

import "context"

// Entry is one row of the placement store. An empty ServerAddress is a
// reservation: an allocation is in progress.
type Entry struct {
	TypeName      string
	ObjectID      string
	ServerAddress string
}

// Storage is the placement store contract. CASInsertIfAbsent and Remove
// must be externally-visible atomic compare-and-set operations.
type Storage interface {
	// Get returns the row for (typeName, id), or nil when none exists.
	Get(ctx context.Context, typeName, id string) (*Entry, error)
	// CASInsertIfAbsent writes (typeName, id) -> addr only if no row
	// exists, reporting whether the write won.
	CASInsertIfAbsent(ctx context.Context, typeName, id, addr string) (bool, error)
	// Remove deletes the row only if it still names expectedAddr,
	// reporting whether a row was deleted.
	Remove(ctx context.Context, typeName, id, expectedAddr string) (bool, error)
	// RemoveByAddress deletes every row hosted by addr.
	RemoveByAddress(ctx context.Context, addr string) error
}

// Event is a change notification from a watching store.
type Event struct {
	TypeName string
	ObjectID string
	Address  string
	Removed  bool
}

// Watcher is implemented by stores that can push row changes; the scheduler
// uses it to observe external evictions.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Event, error)
}
