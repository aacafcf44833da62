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

// Package bolt implements the placement and state store contracts over a
// local bbolt file, for single-node deployments that want durability
// without an external service. Compare-and-set operations run inside a
// bbolt write transaction, which is serialized process-wide.
package bolt

import (
	"context"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/arvo-run/arvo/object"
	"github.com/arvo-run/arvo/placement"
)

var (
	placementBucket = []byte("placement")
	stateBucket     = []byte("state")
)

// Store holds both the placement and state implementations over one file.
type Store struct {
	db *bbolt.DB
}

var (
	_ placement.Storage   = (*Store)(nil)
	_ object.StateStorage = (*Store)(nil)
)

// Open opens (or creates) the database file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(placementBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

func placeKey(typeName, id string) []byte {
	return []byte(typeName + "/" + id)
}

func (s *Store) Get(_ context.Context, typeName, id string) (*placement.Entry, error) {
	var entry *placement.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(placementBucket).Get(placeKey(typeName, id))
		if value != nil {
			entry = &placement.Entry{TypeName: typeName, ObjectID: id, ServerAddress: string(value)}
		}
		return nil
	})
	return entry, err
}

func (s *Store) CASInsertIfAbsent(_ context.Context, typeName, id, addr string) (bool, error) {
	won := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(placementBucket)
		key := placeKey(typeName, id)
		if bucket.Get(key) != nil {
			return nil
		}
		won = true
		return bucket.Put(key, []byte(addr))
	})
	return won, err
}

func (s *Store) Remove(_ context.Context, typeName, id, expectedAddr string) (bool, error) {
	removed := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(placementBucket)
		key := placeKey(typeName, id)
		if string(bucket.Get(key)) != expectedAddr {
			return nil
		}
		removed = true
		return bucket.Delete(key)
	})
	return removed, err
}

func (s *Store) RemoveByAddress(_ context.Context, addr string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(placementBucket)
		cursor := bucket.Cursor()
		var doomed [][]byte
		for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
			if string(value) == addr {
				doomed = append(doomed, append([]byte(nil), key...))
			}
		}
		for _, key := range doomed {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func stateKey(kind, typeName, id, stateName string) []byte {
	return []byte(strings.Join([]string{kind, typeName, id, stateName}, ":"))
}

func (s *Store) Load(_ context.Context, kind, typeName, id, stateName string) ([]byte, error) {
	var payload []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(stateBucket).Get(stateKey(kind, typeName, id, stateName))
		if value != nil {
			payload = append([]byte(nil), value...)
		}
		return nil
	})
	return payload, err
}

func (s *Store) Save(_ context.Context, kind, typeName, id, stateName string, payload []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(stateBucket).Put(stateKey(kind, typeName, id, stateName), payload)
	})
}

func (s *Store) Delete(_ context.Context, kind, typeName, id string) error {
	prefix := []byte(strings.Join([]string{kind, typeName, id}, ":") + ":")
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(stateBucket)
		cursor := bucket.Cursor()
		var doomed [][]byte
		for key, _ := cursor.Seek(prefix); key != nil && strings.HasPrefix(string(key), string(prefix)); key, _ = cursor.Next() {
			doomed = append(doomed, append([]byte(nil), key...))
		}
		for _, key := range doomed {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}
