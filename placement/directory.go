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

package placement

import (
	"context"
	"fmt"
	"math/rand"

	mapset "github.com/deckarep/golang-set/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/arvo-run/arvo/errors"
	"github.com/arvo-run/arvo/log"
)

// Members is the read side of the membership protocol the directory selects
// allocation candidates from.
type Members interface {
	ActiveSet(ctx context.Context) (mapset.Set[string], error)
}

// Directory maps object identities to hosting nodes with single-activation
// semantics. Lookups hit a local LRU cache first; stale hits self-correct
// because a misdirected forward comes back as a redirect, which invalidates
// the cached entry.
type Directory struct {
	self    string
	storage Storage
	members Members
	logger  log.Logger

	cache  *lru.Cache[string, string]
	flight singleflight.Group
}

// NewDirectory creates a Directory for the node at self.
func NewDirectory(self string, storage Storage, members Members, cacheSize int, logger log.Logger) (*Directory, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Directory{
		self:    self,
		storage: storage,
		members: members,
		logger:  logger,
		cache:   cache,
	}, nil
}

func cacheKey(typeName, id string) string {
	return fmt.Sprintf("%s/%s", typeName, id)
}

// Lookup returns the address currently hosting (typeName, id), or false
// when the identity is unallocated.
func (d *Directory) Lookup(ctx context.Context, typeName, id string) (string, bool, error) {
	key := cacheKey(typeName, id)
	if addr, ok := d.cache.Get(key); ok {
		return addr, true, nil
	}

	entry, err := d.storage.Get(ctx, typeName, id)
	if err != nil {
		return "", false, errors.NewStoreUnavailable("placement", err)
	}
	if entry == nil || entry.ServerAddress == "" {
		return "", false, nil
	}
	d.cache.Add(key, entry.ServerAddress)
	return entry.ServerAddress, true, nil
}

// Allocate claims a host for (typeName, id) and returns the winning
// address, which may belong to another node that raced this one. Concurrent
// local calls for the same identity share a single allocation attempt.
func (d *Directory) Allocate(ctx context.Context, typeName, id string) (string, error) {
	key := cacheKey(typeName, id)
	addr, err, _ := d.flight.Do(key, func() (any, error) {
		// a winner recorded by an earlier allocation is reused, not re-claimed
		if cached, ok := d.cache.Get(key); ok {
			return cached, nil
		}
		return d.allocate(ctx, typeName, id)
	})
	if err != nil {
		return "", err
	}
	return addr.(string), nil
}

func (d *Directory) allocate(ctx context.Context, typeName, id string) (string, error) {
	candidate, err := d.pickCandidate(ctx)
	if err != nil {
		return "", err
	}

	won, err := d.storage.CASInsertIfAbsent(ctx, typeName, id, candidate)
	if err != nil {
		return "", errors.NewStoreUnavailable("placement", err)
	}
	if !won {
		// lost the race: the winning row is authoritative
		entry, err := d.storage.Get(ctx, typeName, id)
		if err != nil {
			return "", errors.NewStoreUnavailable("placement", err)
		}
		if entry == nil || entry.ServerAddress == "" {
			return "", errors.ErrStoreUnavailable
		}
		candidate = entry.ServerAddress
	}
	d.cache.Add(cacheKey(typeName, id), candidate)
	return candidate, nil
}

// pickCandidate selects an allocation target uniformly at random over the
// active membership, preferring self when it is the only active node.
func (d *Directory) pickCandidate(ctx context.Context) (string, error) {
	active, err := d.members.ActiveSet(ctx)
	if err != nil {
		return "", err
	}
	nodes := active.ToSlice()
	if len(nodes) == 0 {
		return "", errors.ErrNoActiveNodes
	}
	return nodes[rand.Intn(len(nodes))], nil
}

// Evict removes every placement row hosted by addr, then drops the matching
// cache entries. Called when membership observes a node going inactive.
func (d *Directory) Evict(ctx context.Context, addr string) error {
	if err := d.storage.RemoveByAddress(ctx, addr); err != nil {
		return errors.NewStoreUnavailable("placement", err)
	}
	for _, key := range d.cache.Keys() {
		if cached, ok := d.cache.Peek(key); ok && cached == addr {
			d.cache.Remove(key)
		}
	}
	d.logger.Infof("evicted placement rows for node=%s", addr)
	return nil
}

// EvictOne conditionally retires (typeName, id) if it is still hosted by
// addr. Used by a host releasing its own object.
func (d *Directory) EvictOne(ctx context.Context, typeName, id, addr string) (bool, error) {
	removed, err := d.storage.Remove(ctx, typeName, id, addr)
	if err != nil {
		return false, errors.NewStoreUnavailable("placement", err)
	}
	d.cache.Remove(cacheKey(typeName, id))
	return removed, nil
}

// Invalidate drops the cached address for (typeName, id) so concurrent
// callers re-look-up rather than reusing a known-stale entry.
func (d *Directory) Invalidate(typeName, id string) {
	d.cache.Remove(cacheKey(typeName, id))
}

// Self returns the address of the local node.
func (d *Directory) Self() string {
	return d.self
}

// Watch exposes the store's change stream when the store supports one.
func (d *Directory) Watch(ctx context.Context) (<-chan Event, bool) {
	watcher, ok := d.storage.(Watcher)
	if !ok {
		return nil, false
	}
	events, err := watcher.Watch(ctx)
	if err != nil {
		return nil, false
	}
	return events, true
}
