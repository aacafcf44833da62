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

// Package postgres implements the placement and state store contracts over
// PostgreSQL. Placement compare-and-set maps onto the table's primary key
// via INSERT ... ON CONFLICT DO NOTHING.
package postgres

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/arvo-run/arvo/object"
	"github.com/arvo-run/arvo/placement"
)

const schema = `
CREATE TABLE IF NOT EXISTS object_placement (
	type_name      TEXT NOT NULL,
	object_id      TEXT NOT NULL,
	server_address TEXT,
	PRIMARY KEY (type_name, object_id)
);
CREATE INDEX IF NOT EXISTS object_placement_address_idx ON object_placement (server_address);

CREATE TABLE IF NOT EXISTS object_state (
	type_name  TEXT NOT NULL,
	object_id  TEXT NOT NULL,
	state_name TEXT NOT NULL,
	kind       TEXT NOT NULL,
	payload    BYTEA,
	PRIMARY KEY (type_name, object_id, state_name, kind)
);
`

// Connect opens a connection pool against dsn and ensures the schema.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// PlacementStore is a PostgreSQL-backed placement.Storage.
type PlacementStore struct {
	db *sql.DB
}

var _ placement.Storage = (*PlacementStore)(nil)

// NewPlacementStore creates a PlacementStore over an open pool.
func NewPlacementStore(db *sql.DB) *PlacementStore {
	return &PlacementStore{db: db}
}

func (s *PlacementStore) Get(ctx context.Context, typeName, id string) (*placement.Entry, error) {
	var addr sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT server_address FROM object_placement WHERE type_name = $1 AND object_id = $2`,
		typeName, id).Scan(&addr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &placement.Entry{TypeName: typeName, ObjectID: id, ServerAddress: addr.String}, nil
}

func (s *PlacementStore) CASInsertIfAbsent(ctx context.Context, typeName, id, addr string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO object_placement (type_name, object_id, server_address)
		 VALUES ($1, $2, $3) ON CONFLICT (type_name, object_id) DO NOTHING`,
		typeName, id, addr)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *PlacementStore) Remove(ctx context.Context, typeName, id, expectedAddr string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM object_placement WHERE type_name = $1 AND object_id = $2 AND server_address = $3`,
		typeName, id, expectedAddr)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *PlacementStore) RemoveByAddress(ctx context.Context, addr string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM object_placement WHERE server_address = $1`, addr)
	return err
}

// StateStore is a PostgreSQL-backed object.StateStorage.
type StateStore struct {
	db *sql.DB
}

var _ object.StateStorage = (*StateStore)(nil)

// NewStateStore creates a StateStore over an open pool.
func NewStateStore(db *sql.DB) *StateStore {
	return &StateStore{db: db}
}

func (s *StateStore) Load(ctx context.Context, kind, typeName, id, stateName string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM object_state
		 WHERE kind = $1 AND type_name = $2 AND object_id = $3 AND state_name = $4`,
		kind, typeName, id, stateName).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *StateStore) Save(ctx context.Context, kind, typeName, id, stateName string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO object_state (kind, type_name, object_id, state_name, payload)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (type_name, object_id, state_name, kind) DO UPDATE SET payload = EXCLUDED.payload`,
		kind, typeName, id, stateName, payload)
	return err
}

func (s *StateStore) Delete(ctx context.Context, kind, typeName, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM object_state WHERE kind = $1 AND type_name = $2 AND object_id = $3`,
		kind, typeName, id)
	return err
}
