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

// Package etcd implements the membership and placement store contracts
// over an external etcd cluster. Placement compare-and-set maps onto etcd
// transactions comparing key create revisions.
package etcd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/arvo-run/arvo/address"
	"github.com/arvo-run/arvo/membership"
	"github.com/arvo-run/arvo/placement"
)

const (
	membersPrefix  = "arvo/members/"
	failuresPrefix = "arvo/failures/"
	placePrefix    = "arvo/placement/"
)

// Connect dials an etcd cluster.
func Connect(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

type memberRecord struct {
	Address  string    `msgpack:"address"`
	LastSeen time.Time `msgpack:"last_seen"`
	Active   bool      `msgpack:"active"`
}

type failureRecord struct {
	Address  string    `msgpack:"address"`
	Reporter string    `msgpack:"reporter"`
	Time     time.Time `msgpack:"time"`
}

// MembershipStore is an etcd-backed membership.Storage with watch support.
type MembershipStore struct {
	cli *clientv3.Client
}

var (
	_ membership.Storage = (*MembershipStore)(nil)
	_ membership.Watcher = (*MembershipStore)(nil)
)

// NewMembershipStore creates a MembershipStore over an established client.
func NewMembershipStore(cli *clientv3.Client) *MembershipStore {
	return &MembershipStore{cli: cli}
}

func (s *MembershipStore) Upsert(ctx context.Context, entry membership.Entry) error {
	value, err := msgpack.Marshal(memberRecord{
		Address:  entry.Address.String(),
		LastSeen: entry.LastSeen,
		Active:   entry.Active,
	})
	if err != nil {
		return err
	}
	_, err = s.cli.Put(ctx, membersPrefix+entry.Address.String(), string(value))
	return err
}

func (s *MembershipStore) Get(ctx context.Context, addr address.Address) (*membership.Entry, error) {
	resp, err := s.cli.Get(ctx, membersPrefix+addr.String())
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return decodeMember(resp.Kvs[0].Value)
}

func (s *MembershipStore) ListActive(ctx context.Context) ([]membership.Entry, error) {
	resp, err := s.cli.Get(ctx, membersPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	var entries []membership.Entry
	for _, kv := range resp.Kvs {
		entry, err := decodeMember(kv.Value)
		if err != nil {
			return nil, err
		}
		if entry.Active {
			entries = append(entries, *entry)
		}
	}
	return entries, nil
}

func (s *MembershipStore) SetActive(ctx context.Context, addr address.Address, active bool) error {
	entry, err := s.Get(ctx, addr)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	entry.Active = active
	return s.Upsert(ctx, *entry)
}

func (s *MembershipStore) NotifyFailure(ctx context.Context, addr, reporter address.Address, at time.Time) error {
	value, err := msgpack.Marshal(failureRecord{
		Address:  addr.String(),
		Reporter: reporter.String(),
		Time:     at,
	})
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%s/%s", failuresPrefix, addr.String(), reporter.String())
	_, err = s.cli.Put(ctx, key, string(value))
	return err
}

func (s *MembershipStore) Failures(ctx context.Context, addr address.Address, since time.Time) ([]membership.Failure, error) {
	resp, err := s.cli.Get(ctx, failuresPrefix+addr.String()+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	var failures []membership.Failure
	for _, kv := range resp.Kvs {
		var record failureRecord
		if err := msgpack.Unmarshal(kv.Value, &record); err != nil {
			return nil, err
		}
		if record.Time.Before(since) {
			continue
		}
		target, err := address.Parse(record.Address)
		if err != nil {
			continue
		}
		reporter, err := address.Parse(record.Reporter)
		if err != nil {
			continue
		}
		failures = append(failures, membership.Failure{Address: target, Reporter: reporter, Time: record.Time})
	}
	return failures, nil
}

func (s *MembershipStore) ClearFailures(ctx context.Context, addr address.Address) error {
	_, err := s.cli.Delete(ctx, failuresPrefix+addr.String()+"/", clientv3.WithPrefix())
	return err
}

func (s *MembershipStore) Watch(ctx context.Context) (<-chan membership.Event, error) {
	events := make(chan membership.Event, 16)
	watch := s.cli.Watch(ctx, membersPrefix, clientv3.WithPrefix())
	go func() {
		defer close(events)
		for resp := range watch {
			for _, ev := range resp.Events {
				switch {
				case ev.Type == clientv3.EventTypeDelete:
					addr, err := address.Parse(strings.TrimPrefix(string(ev.Kv.Key), membersPrefix))
					if err == nil {
						events <- membership.Event{Address: addr, Active: false}
					}
				default:
					entry, err := decodeMember(ev.Kv.Value)
					if err == nil {
						events <- membership.Event{Address: entry.Address, Active: entry.Active}
					}
				}
			}
		}
	}()
	return events, nil
}

func decodeMember(value []byte) (*membership.Entry, error) {
	var record memberRecord
	if err := msgpack.Unmarshal(value, &record); err != nil {
		return nil, err
	}
	addr, err := address.Parse(record.Address)
	if err != nil {
		return nil, err
	}
	return &membership.Entry{Address: addr, LastSeen: record.LastSeen, Active: record.Active}, nil
}

// PlacementStore is an etcd-backed placement.Storage with watch support.
type PlacementStore struct {
	cli *clientv3.Client
}

var (
	_ placement.Storage = (*PlacementStore)(nil)
	_ placement.Watcher = (*PlacementStore)(nil)
)

// NewPlacementStore creates a PlacementStore over an established client.
func NewPlacementStore(cli *clientv3.Client) *PlacementStore {
	return &PlacementStore{cli: cli}
}

func placeKey(typeName, id string) string {
	return placePrefix + typeName + "/" + id
}

func (s *PlacementStore) Get(ctx context.Context, typeName, id string) (*placement.Entry, error) {
	resp, err := s.cli.Get(ctx, placeKey(typeName, id))
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return &placement.Entry{TypeName: typeName, ObjectID: id, ServerAddress: string(resp.Kvs[0].Value)}, nil
}

func (s *PlacementStore) CASInsertIfAbsent(ctx context.Context, typeName, id, addr string) (bool, error) {
	key := placeKey(typeName, id)
	resp, err := s.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, addr)).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

func (s *PlacementStore) Remove(ctx context.Context, typeName, id, expectedAddr string) (bool, error) {
	key := placeKey(typeName, id)
	resp, err := s.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(key), "=", expectedAddr)).
		Then(clientv3.OpDelete(key)).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

func (s *PlacementStore) RemoveByAddress(ctx context.Context, addr string) error {
	resp, err := s.cli.Get(ctx, placePrefix, clientv3.WithPrefix())
	if err != nil {
		return err
	}
	for _, kv := range resp.Kvs {
		if string(kv.Value) != addr {
			continue
		}
		// conditional delete: skip rows reassigned since the read
		if _, err := s.cli.Txn(ctx).
			If(clientv3.Compare(clientv3.Value(string(kv.Key)), "=", addr)).
			Then(clientv3.OpDelete(string(kv.Key))).
			Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (s *PlacementStore) Watch(ctx context.Context) (<-chan placement.Event, error) {
	events := make(chan placement.Event, 16)
	watch := s.cli.Watch(ctx, placePrefix, clientv3.WithPrefix())
	go func() {
		defer close(events)
		for resp := range watch {
			for _, ev := range resp.Events {
				typeName, id, ok := splitPlaceKey(string(ev.Kv.Key))
				if !ok {
					continue
				}
				events <- placement.Event{
					TypeName: typeName,
					ObjectID: id,
					Address:  string(ev.Kv.Value),
					Removed:  ev.Type == clientv3.EventTypeDelete,
				}
			}
		}
	}()
	return events, nil
}

func splitPlaceKey(key string) (typeName, id string, ok bool) {
	rest := strings.TrimPrefix(key, placePrefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
