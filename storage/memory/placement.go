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

package memory

import (
	"context"
	"sync"

	"github.com/arvo-run/arvo/placement"
)

// PlacementStore is an in-memory placement.Storage with watch support. Its
// compare-and-set operations hold one lock, giving the externally-visible
// atomicity the directory relies on.
type PlacementStore struct {
	mu   sync.RWMutex
	rows map[string]placement.Entry

	watchersMu sync.Mutex
	watchers   []chan placement.Event
}

var (
	_ placement.Storage = (*PlacementStore)(nil)
	_ placement.Watcher = (*PlacementStore)(nil)
)

// NewPlacementStore creates an empty PlacementStore.
func NewPlacementStore() *PlacementStore {
	return &PlacementStore{rows: make(map[string]placement.Entry)}
}

func rowKey(typeName, id string) string {
	return typeName + "/" + id
}

func (s *PlacementStore) Get(_ context.Context, typeName, id string) (*placement.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.rows[rowKey(typeName, id)]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *PlacementStore) CASInsertIfAbsent(_ context.Context, typeName, id, addr string) (bool, error) {
	key := rowKey(typeName, id)
	s.mu.Lock()
	if _, exists := s.rows[key]; exists {
		s.mu.Unlock()
		return false, nil
	}
	s.rows[key] = placement.Entry{TypeName: typeName, ObjectID: id, ServerAddress: addr}
	s.mu.Unlock()

	s.notify(placement.Event{TypeName: typeName, ObjectID: id, Address: addr})
	return true, nil
}

func (s *PlacementStore) Remove(_ context.Context, typeName, id, expectedAddr string) (bool, error) {
	key := rowKey(typeName, id)
	s.mu.Lock()
	entry, exists := s.rows[key]
	if !exists || entry.ServerAddress != expectedAddr {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.rows, key)
	s.mu.Unlock()

	s.notify(placement.Event{TypeName: typeName, ObjectID: id, Address: expectedAddr, Removed: true})
	return true, nil
}

func (s *PlacementStore) RemoveByAddress(_ context.Context, addr string) error {
	var removed []placement.Entry
	s.mu.Lock()
	for key, entry := range s.rows {
		if entry.ServerAddress == addr {
			delete(s.rows, key)
			removed = append(removed, entry)
		}
	}
	s.mu.Unlock()

	for _, entry := range removed {
		s.notify(placement.Event{TypeName: entry.TypeName, ObjectID: entry.ObjectID, Address: addr, Removed: true})
	}
	return nil
}

func (s *PlacementStore) Watch(ctx context.Context) (<-chan placement.Event, error) {
	events := make(chan placement.Event, 16)
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

// Len returns the number of rows, for tests.
func (s *PlacementStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *PlacementStore) notify(event placement.Event) {
	s.watchersMu.Lock()
	defer s.watchersMu.Unlock()
	for _, watcher := range s.watchers {
		select {
		case watcher <- event:
		default:
		}
	}
}
