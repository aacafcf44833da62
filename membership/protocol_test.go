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

package membership_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/arvo-run/arvo/address"
	"github.com/arvo-run/arvo/log"
	"github.com/arvo-run/arvo/membership"
	"github.com/arvo-run/arvo/storage/memory"
)

var (
	nodeA = address.New("127.0.0.1", 7001)
	nodeB = address.New("127.0.0.1", 7002)
	nodeC = address.New("127.0.0.1", 7003)
)

func TestAnnounceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMembershipStore()

	for range 3 {
		protocol := membership.New(nodeA, store, membership.WithLogger(log.DiscardLogger))
		require.NoError(t, protocol.Start(ctx))
		protocol.Stop()
	}

	entries, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "repeated start-up of the same address yields one row")
	assert.True(t, entries[0].Address.Equal(nodeA))
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMembershipStore()
	protocol := membership.New(nodeA, store,
		membership.WithLogger(log.DiscardLogger),
		membership.WithHeartbeatInterval(10*time.Millisecond),
	)
	require.NoError(t, protocol.Start(ctx))
	defer protocol.Stop()

	entry, err := store.Get(ctx, nodeA)
	require.NoError(t, err)
	require.NotNil(t, entry)
	first := entry.LastSeen

	assert.Eventually(t, func() bool {
		entry, err := store.Get(ctx, nodeA)
		return err == nil && entry != nil && entry.LastSeen.After(first)
	}, time.Second, 10*time.Millisecond)
}

func TestReAnnounceAfterExternalDeactivation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMembershipStore()
	protocol := membership.New(nodeA, store,
		membership.WithLogger(log.DiscardLogger),
		membership.WithHeartbeatInterval(10*time.Millisecond),
	)
	require.NoError(t, protocol.Start(ctx))
	defer protocol.Stop()

	require.NoError(t, store.NotifyFailure(ctx, nodeA, nodeB, time.Now()))
	require.NoError(t, store.SetActive(ctx, nodeA, false))

	assert.Eventually(t, func() bool {
		entry, err := store.Get(ctx, nodeA)
		return err == nil && entry != nil && entry.Active
	}, time.Second, 10*time.Millisecond)

	failures, err := store.Failures(ctx, nodeA, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, failures, "re-announce clears the failures log")
}

func TestProbeFlipsUnreachablePeerInactive(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMembershipStore()
	require.NoError(t, store.Upsert(ctx, membership.Entry{Address: nodeB, LastSeen: time.Now(), Active: true}))

	down := make(chan address.Address, 1)
	protocol := membership.New(nodeA, store,
		membership.WithLogger(log.DiscardLogger),
		membership.WithProbeInterval(10*time.Millisecond),
		membership.WithFailureThreshold(1),
		membership.WithFailureWindow(time.Second),
		membership.WithPinger(func(context.Context, address.Address) error {
			return assert.AnError
		}),
		membership.WithOnPeerDown(func(addr address.Address) {
			select {
			case down <- addr:
			default:
			}
		}),
	)
	require.NoError(t, protocol.Start(ctx))
	defer protocol.Stop()

	select {
	case addr := <-down:
		assert.True(t, addr.Equal(nodeB))
	case <-time.After(time.Second):
		t.Fatal("peer was never flipped inactive")
	}

	active, err := protocol.IsActive(ctx, nodeB)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestProbeBelowThresholdKeepsPeerActive(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMembershipStore()
	require.NoError(t, store.Upsert(ctx, membership.Entry{Address: nodeB, LastSeen: time.Now(), Active: true}))

	protocol := membership.New(nodeA, store,
		membership.WithLogger(log.DiscardLogger),
		membership.WithProbeInterval(10*time.Millisecond),
		// two distinct reporters required; this single prober can never
		// reach the threshold alone
		membership.WithFailureThreshold(2),
		membership.WithFailureWindow(time.Second),
		membership.WithPinger(func(context.Context, address.Address) error {
			return assert.AnError
		}),
	)
	require.NoError(t, protocol.Start(ctx))
	defer protocol.Stop()

	time.Sleep(100 * time.Millisecond)
	active, err := protocol.IsActive(ctx, nodeB)
	require.NoError(t, err)
	assert.True(t, active)

	failures, err := store.Failures(ctx, nodeB, time.Time{})
	require.NoError(t, err)
	assert.NotEmpty(t, failures)
}

func TestProbeSkipsReachablePeers(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMembershipStore()
	require.NoError(t, store.Upsert(ctx, membership.Entry{Address: nodeB, LastSeen: time.Now(), Active: true}))
	require.NoError(t, store.Upsert(ctx, membership.Entry{Address: nodeC, LastSeen: time.Now(), Active: true}))

	pings := atomic.NewInt64(0)
	protocol := membership.New(nodeA, store,
		membership.WithLogger(log.DiscardLogger),
		membership.WithProbeInterval(10*time.Millisecond),
		membership.WithFailureThreshold(1),
		membership.WithPinger(func(context.Context, address.Address) error {
			pings.Inc()
			return nil
		}),
	)
	require.NoError(t, protocol.Start(ctx))
	defer protocol.Stop()

	assert.Eventually(t, func() bool { return pings.Load() > 0 }, time.Second, 10*time.Millisecond)

	failures, err := store.Failures(ctx, nodeB, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestListActiveAndActiveSet(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMembershipStore()
	protocol := membership.New(nodeA, store, membership.WithLogger(log.DiscardLogger))
	require.NoError(t, protocol.Start(ctx))
	defer protocol.Stop()

	require.NoError(t, store.Upsert(ctx, membership.Entry{Address: nodeB, LastSeen: time.Now(), Active: true}))
	require.NoError(t, store.Upsert(ctx, membership.Entry{Address: nodeC, LastSeen: time.Now(), Active: false}))

	addrs, err := protocol.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, addrs, 2)

	set, err := protocol.ActiveSet(ctx)
	require.NoError(t, err)
	assert.True(t, set.Contains(nodeA.String()))
	assert.True(t, set.Contains(nodeB.String()))
	assert.False(t, set.Contains(nodeC.String()))
}

func TestWatchChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewMembershipStore()
	protocol := membership.New(nodeA, store, membership.WithLogger(log.DiscardLogger))

	events, err := protocol.WatchChanges(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Upsert(ctx, membership.Entry{Address: nodeB, LastSeen: time.Now(), Active: true}))
	event := <-events
	assert.True(t, event.Address.Equal(nodeB))
	assert.True(t, event.Active)

	require.NoError(t, store.SetActive(ctx, nodeB, false))
	event = <-events
	assert.True(t, event.Address.Equal(nodeB))
	assert.False(t, event.Active)
}

func TestLeaveFlipsOwnEntryInactive(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMembershipStore()
	protocol := membership.New(nodeA, store, membership.WithLogger(log.DiscardLogger))
	require.NoError(t, protocol.Start(ctx))
	protocol.Stop()

	require.NoError(t, protocol.Leave(ctx))
	entry, err := store.Get(ctx, nodeA)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.False(t, entry.Active)
}
