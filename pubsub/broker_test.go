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

package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanOut(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	subs := make([]Subscriber, 5)
	for i := range subs {
		subs[i] = broker.AddSubscriber(4)
		broker.Subscribe(subs[i], "chat")
	}
	assert.Equal(t, 5, broker.SubscribersCount("chat"))

	broker.Publish("chat", []byte("hello"))

	for _, sub := range subs {
		msg := <-sub.C()
		assert.Equal(t, "chat", msg.Subject)
		assert.Equal(t, []byte("hello"), msg.Payload)
	}
}

func TestOrderPreservedPerSubscriber(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	sub := broker.AddSubscriber(16)
	broker.Subscribe(sub, "chat")

	broker.Publish("chat", []byte("one"))
	broker.Publish("chat", []byte("two"))
	broker.Publish("chat", []byte("three"))

	assert.Equal(t, []byte("one"), (<-sub.C()).Payload)
	assert.Equal(t, []byte("two"), (<-sub.C()).Payload)
	assert.Equal(t, []byte("three"), (<-sub.C()).Payload)
}

func TestFullMailboxDropsAndCounts(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	full := broker.AddSubscriber(1)
	healthy := broker.AddSubscriber(4)
	broker.Subscribe(full, "chat")
	broker.Subscribe(healthy, "chat")

	broker.Publish("chat", []byte("first"))
	broker.Publish("chat", []byte("second"))

	assert.Equal(t, uint64(1), full.Dropped())
	assert.Equal(t, uint64(0), healthy.Dropped())

	// the healthy subscriber still received both
	assert.Equal(t, []byte("first"), (<-healthy.C()).Payload)
	assert.Equal(t, []byte("second"), (<-healthy.C()).Payload)

	// the full one kept the first
	assert.Equal(t, []byte("first"), (<-full.C()).Payload)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	sub := broker.AddSubscriber(4)
	broker.Subscribe(sub, "chat")
	broker.Unsubscribe(sub, "chat")

	broker.Publish("chat", []byte("hello"))
	assert.Equal(t, 0, broker.SubscribersCount("chat"))
	assert.Empty(t, sub.Subjects())
	select {
	case <-sub.C():
		t.Fatal("unsubscribed subscriber received a publish")
	default:
	}
}

func TestRemoveSubscriber(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	sub := broker.AddSubscriber(4)
	broker.Subscribe(sub, "chat")
	broker.Subscribe(sub, "news")
	require.ElementsMatch(t, []string{"chat", "news"}, sub.Subjects())

	broker.RemoveSubscriber(sub)
	assert.False(t, sub.Active())
	assert.Equal(t, 0, broker.SubscribersCount("chat"))
	assert.Equal(t, 0, broker.SubscribersCount("news"))

	// deliveries after shutdown are ignored, not counted as drops
	broker.Publish("chat", []byte("late"))
	assert.Equal(t, uint64(0), sub.Dropped())
}
