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

package scheduler

import (
	"sync"

	gods "github.com/Workiva/go-datastructures/queue"
	"go.uber.org/atomic"

	"github.com/arvo-run/arvo/errors"
)

// mailbox is the per-object FIFO queue of pending envelopes. The dispatch
// loop is the single consumer; any goroutine may enqueue.
type mailbox interface {
	// Enqueue appends env, failing when the mailbox is full or closed.
	Enqueue(env *envelope) error
	// Dequeue removes the oldest envelope, or returns nil when empty.
	Dequeue() *envelope
	// Len returns the number of queued envelopes.
	Len() int64
	// Close rejects further enqueues. Queued envelopes remain dequeuable
	// so the drain path can fail them individually.
	Close()
}

// boundedMailbox is a fixed-capacity MPSC mailbox backed by a ring buffer.
// Enqueues never block: a full buffer bounces the message so the sender can
// be answered with a busy response.
type boundedMailbox struct {
	underlying *gods.RingBuffer
	// size counts queued envelopes; the ring buffer rounds its own size up
	capacity int64
	size     *atomic.Int64
	closed   *atomic.Bool
}

var _ mailbox = (*boundedMailbox)(nil)

func newBoundedMailbox(capacity int) *boundedMailbox {
	return &boundedMailbox{
		underlying: gods.NewRingBuffer(uint64(capacity)),
		capacity:   int64(capacity),
		size:       atomic.NewInt64(0),
		closed:     atomic.NewBool(false),
	}
}

func (m *boundedMailbox) Enqueue(env *envelope) error {
	if m.closed.Load() {
		return errors.ErrMailboxClosed
	}
	if m.size.Inc() > m.capacity {
		m.size.Dec()
		return errors.ErrMailboxFull
	}
	ok, err := m.underlying.Offer(env)
	if err != nil {
		m.size.Dec()
		return errors.ErrMailboxClosed
	}
	if !ok {
		m.size.Dec()
		return errors.ErrMailboxFull
	}
	return nil
}

func (m *boundedMailbox) Dequeue() *envelope {
	// the length guard keeps the single consumer from blocking in Get
	if m.underlying.Len() > 0 {
		item, err := m.underlying.Get()
		if err != nil {
			return nil
		}
		m.size.Dec()
		if env, ok := item.(*envelope); ok {
			return env
		}
	}
	return nil
}

func (m *boundedMailbox) Len() int64 {
	return int64(m.underlying.Len())
}

func (m *boundedMailbox) Close() {
	m.closed.Store(true)
}

// unboundedMailbox grows without limit.
type unboundedMailbox struct {
	lock   sync.Mutex
	queue  []*envelope
	closed bool
}

var _ mailbox = (*unboundedMailbox)(nil)

func newUnboundedMailbox() *unboundedMailbox {
	return &unboundedMailbox{}
}

func (m *unboundedMailbox) Enqueue(env *envelope) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return errors.ErrMailboxClosed
	}
	m.queue = append(m.queue, env)
	return nil
}

func (m *unboundedMailbox) Dequeue() *envelope {
	m.lock.Lock()
	defer m.lock.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	env := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return env
}

func (m *unboundedMailbox) Len() int64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return int64(len(m.queue))
}

func (m *unboundedMailbox) Close() {
	m.lock.Lock()
	m.closed = true
	m.lock.Unlock()
}
