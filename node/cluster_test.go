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

package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvo-run/arvo/client"
	"github.com/arvo-run/arvo/config"
	"github.com/arvo-run/arvo/examples/counter"
	"github.com/arvo-run/arvo/log"
	"github.com/arvo-run/arvo/membership"
	"github.com/arvo-run/arvo/object"
	"github.com/arvo-run/arvo/placement"
	"github.com/arvo-run/arvo/storage/memory"
)

// cluster is a set of nodes sharing one set of stores, the shape a real
// deployment has with an external membership/placement/state service.
type cluster struct {
	members membership.Storage
	place   placement.Storage
	states  object.StateStorage
	nodes   []*Node
}

func newCluster(t *testing.T, size int, withState bool) *cluster {
	t.Helper()
	c := &cluster{
		members: memory.NewMembershipStore(),
		place:   memory.NewPlacementStore(),
	}
	if withState {
		c.states = memory.NewStateStore()
	}
	for i := 0; i < size; i++ {
		c.nodes = append(c.nodes, c.startNode(t))
	}
	return c
}

func (c *cluster) startNode(t *testing.T) *Node {
	t.Helper()
	cfg, err := config.New("node", "127.0.0.1:0",
		config.WithLogger(log.DiscardLogger),
		config.WithHeartbeatInterval(20*time.Millisecond),
		config.WithProbeInterval(50*time.Millisecond),
		config.WithFailureThreshold(1),
		config.WithFailureWindow(2*time.Second),
	)
	require.NoError(t, err)

	registry := object.NewRegistry()
	counter.Register(registry)

	opts := []Option{
		WithMembershipStorage(c.members),
		WithPlacementStorage(c.place),
	}
	if c.states != nil {
		opts = append(opts, WithStateStorage(c.states))
	}

	n := New(cfg, registry, opts...)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = n.Stop(ctx)
	})
	return n
}

func (c *cluster) client(t *testing.T) *client.Client {
	t.Helper()
	cl, err := client.New(
		client.WithMembership(c.members),
		client.WithLogger(log.DiscardLogger),
		client.WithRetryBudget(8),
		client.WithBackoff(config.Backoff{Base: 5 * time.Millisecond, Cap: 50 * time.Millisecond, Jitter: 0.2}),
	)
	require.NoError(t, err)
	t.Cleanup(cl.Close)
	return cl
}

// host returns the node currently hosting (typeName, id), or nil.
func (c *cluster) host(typeName, id string) *Node {
	for _, n := range c.nodes {
		if n.Scheduler().IsLocal(typeName, id) {
			return n
		}
	}
	return nil
}

func ping(t *testing.T, cl *client.Client, n int64) *counter.Pong {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pong, err := client.Call[counter.Ping, counter.Pong](ctx, cl, counter.TypeName, "x", "Ping", &counter.Ping{N: n})
	require.NoError(t, err)
	require.NotNil(t, pong)
	return pong
}

func current(t *testing.T, cl *client.Client) int64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	value, err := client.Call[counter.Current, counter.Value](ctx, cl, counter.TypeName, "x", "Current", &counter.Current{})
	require.NoError(t, err)
	require.NotNil(t, value)
	return value.Value
}

func TestReActivationAfterNodeStopWithoutState(t *testing.T) {
	c := newCluster(t, 2, false)
	cl := c.client(t)

	assert.Equal(t, int64(1), ping(t, cl, 1).N)
	assert.Equal(t, int64(2), ping(t, cl, 2).N)

	host := c.host(counter.TypeName, "x")
	require.NotNil(t, host, "someone must host the counter")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, host.Stop(ctx))

	// the next send lands on the survivor and re-activates from scratch:
	// the two earlier pings are forgotten
	assert.Equal(t, int64(3), ping(t, cl, 3).N)
	assert.Equal(t, int64(1), current(t, cl))

	survivor := c.host(counter.TypeName, "x")
	require.NotNil(t, survivor)
	assert.NotSame(t, host, survivor)
}

func TestStateSurvivesNodeStop(t *testing.T) {
	c := newCluster(t, 2, true)
	cl := c.client(t)

	ping(t, cl, 1)
	ping(t, cl, 2)

	host := c.host(counter.TypeName, "x")
	require.NotNil(t, host)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, host.Stop(ctx))

	ping(t, cl, 3)
	assert.Equal(t, int64(3), current(t, cl), "persisted state rehydrates on the new host")
}

func TestConcurrentIncrementsFromManyClients(t *testing.T) {
	c := newCluster(t, 2, false)

	const clients = 3
	const sends = 100

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		cl := c.client(t)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range sends {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				_, err := client.Call[counter.Increment, counter.Value](ctx, cl, counter.TypeName, "x", "Increment", &counter.Increment{By: 1})
				cancel()
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	cl := c.client(t)
	assert.Equal(t, int64(clients*sends), current(t, cl))
}

func TestSelfShutdownThenReactivation(t *testing.T) {
	c := newCluster(t, 2, false)
	cl := c.client(t)

	ping(t, cl, 1)
	host := c.host(counter.TypeName, "x")
	require.NotNil(t, host)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := client.Call[counter.Shutdown, counter.Value](ctx, cl, counter.TypeName, "x", "Shutdown", &counter.Shutdown{})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return c.host(counter.TypeName, "x") == nil
	}, 2*time.Second, 10*time.Millisecond, "self-shutdown deactivates the instance")

	// the retry/redirect machinery lands the next send on whichever node
	// claims the fresh row
	assert.Equal(t, int64(7), ping(t, cl, 7).N)
	assert.NotNil(t, c.host(counter.TypeName, "x"))
}

func TestNodeLocalSendShortCircuits(t *testing.T) {
	c := newCluster(t, 1, false)
	n := c.nodes[0]

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cl := c.client(t)
	ping(t, cl, 1)

	payload, err := n.Send(ctx, counter.TypeName, "x", "Current", nil)
	require.NoError(t, err)
	require.NotEmpty(t, payload)
}

func TestPublishReachesRemoteSubscriber(t *testing.T) {
	c := newCluster(t, 2, false)

	subClient := c.client(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	deliveries, err := subClient.Subscribe(ctx, "chat")
	require.NoError(t, err)

	// publish through every node so at least one path crosses the wire
	for _, n := range c.nodes {
		require.NoError(t, n.Publish(ctx, "chat", []byte("hello")))
	}

	received := 0
	timeout := time.After(2 * time.Second)
	for received < len(c.nodes) {
		select {
		case payload := <-deliveries:
			assert.Equal(t, []byte("hello"), payload)
			received++
		case <-timeout:
			t.Fatalf("received %d of %d publishes", received, len(c.nodes))
		}
	}
}

func TestMembershipConvergesOnRows(t *testing.T) {
	c := newCluster(t, 2, false)

	assert.Eventually(t, func() bool {
		entries, err := c.members.ListActive(context.Background())
		return err == nil && len(entries) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// both nodes heartbeat the same rows, never duplicates
	entries, err := c.members.ListActive(context.Background())
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, entry := range entries {
		assert.False(t, seen[entry.Address.String()])
		seen[entry.Address.String()] = true
	}
}
