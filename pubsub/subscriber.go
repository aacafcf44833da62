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

// Package pubsub fans published payloads out to subject subscribers over
// bounded per-subscriber mailboxes. Delivery is best-effort, at-most-once:
// a full mailbox drops the publish and increments the subscriber's drop
// counter; within a subject, order is preserved per subscriber.
package pubsub

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// Message is one delivered publish.
type Message struct {
	Subject string
	Payload []byte
}

// Subscriber receives publishes for the subjects it is subscribed to.
// Subscribers are created by a Broker via AddSubscriber.
type Subscriber interface {
	ID() string
	Active() bool
	Subjects() []string
	// C is the subscriber's delivery channel. Consumers must drain it;
	// publishes that find it full are dropped.
	C() <-chan *Message
	// Dropped returns how many publishes were dropped for this subscriber.
	Dropped() uint64
	Shutdown()

	signal(msg *Message)
	subscribe(subject string)
	unsubscribe(subject string)
}

type subscriber struct {
	id string

	subjectsMu sync.Mutex
	subjects   map[string]bool

	mailbox chan *Message
	dropped atomic.Uint64
	active  atomic.Bool
}

var _ Subscriber = (*subscriber)(nil)

func newSubscriber(capacity int) *subscriber {
	if capacity <= 0 {
		capacity = 64
	}
	s := &subscriber{
		id:       uuid.NewString(),
		subjects: make(map[string]bool),
		mailbox:  make(chan *Message, capacity),
	}
	s.active.Store(true)
	return s
}

func (s *subscriber) ID() string {
	return s.id
}

func (s *subscriber) Active() bool {
	return s.active.Load()
}

func (s *subscriber) Subjects() []string {
	s.subjectsMu.Lock()
	defer s.subjectsMu.Unlock()

	subjects := make([]string, 0, len(s.subjects))
	for subject := range s.subjects {
		subjects = append(subjects, subject)
	}
	return subjects
}

func (s *subscriber) C() <-chan *Message {
	return s.mailbox
}

func (s *subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *subscriber) Shutdown() {
	s.active.Store(false)
}

func (s *subscriber) signal(msg *Message) {
	if !s.active.Load() {
		return
	}
	select {
	case s.mailbox <- msg:
	default:
		s.dropped.Inc()
	}
}

func (s *subscriber) subscribe(subject string) {
	s.subjectsMu.Lock()
	s.subjects[subject] = true
	s.subjectsMu.Unlock()
}

func (s *subscriber) unsubscribe(subject string) {
	s.subjectsMu.Lock()
	delete(s.subjects, subject)
	s.subjectsMu.Unlock()
}
