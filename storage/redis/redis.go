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

// Package redis implements the state store contract over Redis. Documents
// are plain keys of the form kind:type:id:state.
package redis

import (
	"context"
	stderrors "errors"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/arvo-run/arvo/object"
)

// StateStore is a Redis-backed object.StateStorage.
type StateStore struct {
	rdb *goredis.Client
}

var _ object.StateStorage = (*StateStore)(nil)

// NewStateStore creates a StateStore over an established client.
func NewStateStore(rdb *goredis.Client) *StateStore {
	return &StateStore{rdb: rdb}
}

// Connect dials a Redis server at addr ("host:port").
func Connect(addr string) *goredis.Client {
	return goredis.NewClient(&goredis.Options{Addr: addr})
}

func stateKey(kind, typeName, id, stateName string) string {
	return strings.Join([]string{kind, typeName, id, stateName}, ":")
}

func (s *StateStore) Load(ctx context.Context, kind, typeName, id, stateName string) ([]byte, error) {
	payload, err := s.rdb.Get(ctx, stateKey(kind, typeName, id, stateName)).Bytes()
	if stderrors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *StateStore) Save(ctx context.Context, kind, typeName, id, stateName string, payload []byte) error {
	return s.rdb.Set(ctx, stateKey(kind, typeName, id, stateName), payload, 0).Err()
}

func (s *StateStore) Delete(ctx context.Context, kind, typeName, id string) error {
	pattern := strings.Join([]string{kind, typeName, id, "*"}, ":")
	iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
