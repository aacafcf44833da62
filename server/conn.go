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

package server

import (
	"net"
	"sync"

	"github.com/arvo-run/arvo/pubsub"
	"github.com/arvo-run/arvo/wire"
)

// serverConn wraps one accepted connection: it serializes frame writes and
// holds the connection's pub/sub subscriber, created lazily on the first
// Subscribe frame.
type serverConn struct {
	raw     net.Conn
	writeMu sync.Mutex

	subMu    sync.Mutex
	sub      pubsub.Subscriber
	pumpStop chan struct{}
}

func newServerConn(raw net.Conn) *serverConn {
	return &serverConn{raw: raw}
}

func (c *serverConn) write(frame *wire.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteFrame(c.raw, frame)
}

// subscribe adds this connection to a subject, starting the delivery pump
// on first use.
func (c *serverConn) subscribe(broker *pubsub.Broker, subject string) {
	c.subMu.Lock()
	if c.sub == nil {
		c.sub = broker.AddSubscriber(0)
		c.pumpStop = make(chan struct{})
		go c.pump()
	}
	sub := c.sub
	c.subMu.Unlock()

	broker.Subscribe(sub, subject)
}

func (c *serverConn) unsubscribe(broker *pubsub.Broker, subject string) {
	c.subMu.Lock()
	sub := c.sub
	c.subMu.Unlock()
	if sub != nil {
		broker.Unsubscribe(sub, subject)
	}
}

// pump forwards broker deliveries to the connection as publish frames.
func (c *serverConn) pump() {
	for {
		select {
		case <-c.pumpStop:
			return
		case msg, ok := <-c.sub.C():
			if !ok {
				return
			}
			frame := &wire.Frame{
				Kind:    wire.KindPublish,
				Publish: &wire.Publish{Subject: msg.Subject, Payload: msg.Payload},
			}
			if err := c.write(frame); err != nil {
				return
			}
		}
	}
}

// cleanup detaches the connection's subscriber when the connection closes.
func (c *serverConn) cleanup(broker *pubsub.Broker) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.sub != nil {
		broker.RemoveSubscriber(c.sub)
		close(c.pumpStop)
		c.sub = nil
	}
}
