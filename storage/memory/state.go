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
	"strings"
	"sync"

	"github.com/arvo-run/arvo/object"
)

// StateStore is an in-memory object.StateStorage.
type StateStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

var _ object.StateStorage = (*StateStore)(nil)

// NewStateStore creates an empty StateStore.
func NewStateStore() *StateStore {
	return &StateStore{docs: make(map[string][]byte)}
}

func stateKey(kind, typeName, id, stateName string) string {
	return strings.Join([]string{kind, typeName, id, stateName}, ":")
}

func (s *StateStore) Load(_ context.Context, kind, typeName, id, stateName string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.docs[stateKey(kind, typeName, id, stateName)]
	if !ok {
		return nil, nil
	}
	copied := make([]byte, len(payload))
	copy(copied, payload)
	return copied, nil
}

func (s *StateStore) Save(_ context.Context, kind, typeName, id, stateName string, payload []byte) error {
	copied := make([]byte, len(payload))
	copy(copied, payload)
	s.mu.Lock()
	s.docs[stateKey(kind, typeName, id, stateName)] = copied
	s.mu.Unlock()
	return nil
}

func (s *StateStore) Delete(_ context.Context, kind, typeName, id string) error {
	prefix := strings.Join([]string{kind, typeName, id}, ":") + ":"
	s.mu.Lock()
	for key := range s.docs {
		if strings.HasPrefix(key, prefix) {
			delete(s.docs, key)
		}
	}
	s.mu.Unlock()
	return nil
}
