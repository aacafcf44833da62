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

import "sync"

// Broker routes publishes on free-form subjects to the subscribers of each
// subject. Order across subjects is unspecified.
type Broker struct {
	subsMu      sync.RWMutex
	subscribers map[string]Subscriber

	subjectsMu sync.RWMutex
	subjects   map[string]map[string]Subscriber
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string]Subscriber),
		subjects:    make(map[string]map[string]Subscriber),
	}
}

// AddSubscriber registers a new subscriber whose mailbox holds up to
// capacity undelivered messages.
func (b *Broker) AddSubscriber(capacity int) Subscriber {
	sub := newSubscriber(capacity)
	b.subsMu.Lock()
	b.subscribers[sub.ID()] = sub
	b.subsMu.Unlock()
	return sub
}

// RemoveSubscriber unsubscribes sub from every subject and deactivates it.
func (b *Broker) RemoveSubscriber(sub Subscriber) {
	for _, subject := range sub.Subjects() {
		b.Unsubscribe(sub, subject)
	}

	b.subsMu.Lock()
	delete(b.subscribers, sub.ID())
	b.subsMu.Unlock()

	sub.Shutdown()
}

// Subscribe adds sub to a subject.
func (b *Broker) Subscribe(sub Subscriber, subject string) {
	b.subjectsMu.Lock()
	members, ok := b.subjects[subject]
	if !ok {
		members = make(map[string]Subscriber)
		b.subjects[subject] = members
	}
	members[sub.ID()] = sub
	b.subjectsMu.Unlock()

	sub.subscribe(subject)
}

// Unsubscribe removes sub from a subject.
func (b *Broker) Unsubscribe(sub Subscriber, subject string) {
	b.subjectsMu.Lock()
	if members, ok := b.subjects[subject]; ok {
		delete(members, sub.ID())
		if len(members) == 0 {
			delete(b.subjects, subject)
		}
	}
	b.subjectsMu.Unlock()

	sub.unsubscribe(subject)
}

// SubscribersCount returns the number of subscribers of a subject.
func (b *Broker) SubscribersCount(subject string) int {
	b.subjectsMu.RLock()
	defer b.subjectsMu.RUnlock()
	return len(b.subjects[subject])
}

// Publish fans payload out to every current subscriber of subject.
func (b *Broker) Publish(subject string, payload []byte) {
	b.subjectsMu.RLock()
	members := make([]Subscriber, 0, len(b.subjects[subject]))
	for _, sub := range b.subjects[subject] {
		members = append(members, sub)
	}
	b.subjectsMu.RUnlock()

	msg := &Message{Subject: subject, Payload: payload}
	for _, sub := range members {
		sub.signal(msg)
	}
}

// Close deactivates every subscriber and clears all subjects.
func (b *Broker) Close() {
	b.subsMu.Lock()
	for _, sub := range b.subscribers {
		sub.Shutdown()
	}
	b.subscribers = make(map[string]Subscriber)
	b.subsMu.Unlock()

	b.subjectsMu.Lock()
	b.subjects = make(map[string]map[string]Subscriber)
	b.subjectsMu.Unlock()
}
