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

// Package wire defines the envelope types exchanged between nodes and
// clients, their msgpack encoding, and the length-prefixed framing used on
// every TCP connection.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind identifies what a frame carries.
type Kind uint8

const (
	KindRequest Kind = iota + 1
	KindResponse
	KindPing
	KindPong
	KindPublish
	KindSubscribe
	KindUnsubscribe
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindResponse:
		return "Response"
	case KindPing:
		return "Ping"
	case KindPong:
		return "Pong"
	case KindPublish:
		return "Publish"
	case KindSubscribe:
		return "Subscribe"
	case KindUnsubscribe:
		return "Unsubscribe"
	case KindShutdown:
		return "Shutdown"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Frame is the unit of exchange on a connection. Exactly one body field is
// set, matching Kind; Ping/Pong carry no body at all.
type Frame struct {
	RequestID uint64     `msgpack:"rid"`
	Kind      Kind       `msgpack:"kind"`
	Request   *Request   `msgpack:"req,omitempty"`
	Response  *Response  `msgpack:"res,omitempty"`
	Publish   *Publish   `msgpack:"pub,omitempty"`
	Subscribe *Subscribe `msgpack:"sub,omitempty"`
	Shutdown  *Shutdown  `msgpack:"shut,omitempty"`
}

// Request asks the receiving node to deliver a message to a service object.
type Request struct {
	TypeName    string `msgpack:"type"`
	ID          string `msgpack:"id"`
	MessageType string `msgpack:"msg"`
	Payload     []byte `msgpack:"payload"`
	// FromNode marks requests originating from a cluster node rather than an
	// external client. Nodes proxy misplaced requests for each other; clients
	// get a Redirect instead so the hop chain stays at length one.
	FromNode bool `msgpack:"node,omitempty"`
	// Proxied marks a request that already took its one proxy hop.
	Proxied bool `msgpack:"proxied,omitempty"`
}

// Publish carries a pub/sub payload for a subject.
type Publish struct {
	Subject string `msgpack:"subject"`
	Payload []byte `msgpack:"payload"`
	// Forwarded marks a publish relayed from a peer node; relayed publishes
	// are delivered locally but never re-forwarded.
	Forwarded bool `msgpack:"fwd,omitempty"`
}

// Subscribe registers (or, on an Unsubscribe frame, removes) the sending
// connection as a subscriber of Subject.
type Subscribe struct {
	Subject string `msgpack:"subject"`
}

// Shutdown tells the receiving node to deactivate its local instance of the
// named object. Sent by a peer that took over the placement row.
type Shutdown struct {
	TypeName string `msgpack:"type"`
	ID       string `msgpack:"id"`
}

// MaxFrameSize bounds a single frame on the wire. Oversized frames indicate
// a corrupt stream or a hostile peer; the connection is dropped.
const MaxFrameSize = 16 << 20

// WriteFrame encodes f with msgpack and writes it to w behind a big-endian
// u32 length prefix. Callers serialize writes per connection.
func WriteFrame(w io.Writer, f *Frame) error {
	payload, err := msgpack.Marshal(f)
	if err != nil {
		return fmt.Errorf("wire: encode frame: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("wire: frame of %d bytes exceeds limit", len(payload))
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame from r and decodes it.
func ReadFrame(r io.Reader) (*Frame, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	frame := new(Frame)
	if err := msgpack.Unmarshal(payload, frame); err != nil {
		return nil, fmt.Errorf("wire: decode frame: %w", err)
	}
	return frame, nil
}
