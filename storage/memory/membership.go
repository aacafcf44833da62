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

// Package memory provides in-process implementations of the membership,
// placement, and state store contracts. They are first-class citizens: the
// single-node deployment runs on them, and every distributed property of
// the runtime is assertable against them without an external service.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/arvo-run/arvo/address"
	"github.com/arvo-run/arvo/membership"
)

// MembershipStore is an in-memory membership.Storage with watch support.
type MembershipStore struct {
	mu       sync.RWMutex
	entries  map[string]membership.Entry
	failures map[string][]membership.Failure

	watchersMu sync.Mutex
	watchers   []chan membership.Event
}

var (
	_ membership.Storage = (*MembershipStore)(nil)
	_ membership.Watcher = (*MembershipStore)(nil)
)

// NewMembershipStore creates an empty MembershipStore.
func NewMembershipStore() *MembershipStore {
	return &MembershipStore{
		entries:  make(map[string]membership.Entry),
		failures: make(map[string][]membership.Failure),
	}
}

func (s *MembershipStore) Upsert(_ context.Context, entry membership.Entry) error {
	key := entry.Address.String()
	s.mu.Lock()
	prior, existed := s.entries[key]
	s.entries[key] = entry
	s.mu.Unlock()

	if !existed || prior.Active != entry.Active {
		s.notify(membership.Event{Address: entry.Address, Active: entry.Active})
	}
	return nil
}

func (s *MembershipStore) Get(_ context.Context, addr address.Address) (*membership.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[addr.String()]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *MembershipStore) ListActive(_ context.Context) ([]membership.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]membership.Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		if entry.Active {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *MembershipStore) SetActive(_ context.Context, addr address.Address, active bool) error {
	key := addr.String()
	s.mu.Lock()
	entry, ok := s.entries[key]
	changed := ok && entry.Active != active
	if ok {
		entry.Active = active
		s.entries[key] = entry
	}
	s.mu.Unlock()

	if changed {
		s.notify(membership.Event{Address: addr, Active: active})
	}
	return nil
}

func (s *MembershipStore) NotifyFailure(_ context.Context, addr, reporter address.Address, at time.Time) error {
	key := addr.String()
	s.mu.Lock()
	s.failures[key] = append(s.failures[key], membership.Failure{Address: addr, Reporter: reporter, Time: at})
	s.mu.Unlock()
	return nil
}

func (s *MembershipStore) Failures(_ context.Context, addr address.Address, since time.Time) ([]membership.Failure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var recent []membership.Failure
	for _, failure := range s.failures[addr.String()] {
		if !failure.Time.Before(since) {
			recent = append(recent, failure)
		}
	}
	return recent, nil
}

func (s *MembershipStore) ClearFailures(_ context.Context, addr address.Address) error {
	s.mu.Lock()
	delete(s.failures, addr.String())
	s.mu.Unlock()
	return nil
}

func (s *MembershipStore) Watch(ctx context.Context) (<-chan membership.Event, error) {
	events := make(chan membership.Event, 16)
	s.watchersMu.Lock()
	s.watchers = append(s.watchers, events)
	s.watchersMu.Unlock()

	go func() {
		<-ctx.Done()
		s.watchersMu.Lock()
		for i, watcher := range s.watchers {
			if watcher == events {
				s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
				break
			}
		}
		s.watchersMu.Unlock()
		close(events)
	}()
	return events, nil
}

func (s *MembershipStore) notify(event membership.Event) {
	s.watchersMu.Lock()
	defer s.watchersMu.Unlock()
	for _, watcher := range s.watchers {
		select {
		case watcher <- event:
		default:
		}
	}
}
