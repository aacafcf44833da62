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
	"context"
	"time"

	"go.uber.org/atomic"

	"github.com/arvo-run/arvo/object"
	"github.com/arvo-run/arvo/wire"
)

// lifecycle states of an active instance.
const (
	lifecycleActivating int32 = iota
	lifecycleReady
	lifecycleDeactivating
	lifecycleDead
)

type envelopeKind uint8

const (
	envelopeUser envelopeKind = iota
	envelopeTick
	envelopePublish
)

// envelope is one pending unit of work in an object's mailbox. Ticks and
// publishes are synthetic envelopes with no reply channel.
type envelope struct {
	kind        envelopeKind
	ctx         context.Context
	messageType string
	subject     string
	payload     []byte
	reply       chan *wire.Response
}

func (e *envelope) respond(res *wire.Response) {
	if e.reply == nil {
		return
	}
	select {
	case e.reply <- res:
	default:
	}
}

// instance is one locally active service object. The dispatch loop owns the
// mailbox and lifecycle; handlers touch user state only while the loop runs
// them.
type instance struct {
	identity object.Identity
	obj      object.ServiceObject

	mailbox mailbox
	// signal wakes the dispatch loop after an enqueue; capacity one, a
	// pending wake-up covers any number of enqueues.
	signal chan struct{}

	lifecycle    *atomic.Int32
	lastActivity *atomic.Time
	// shutdownFlag is set by a handler requesting self-shutdown or by an
	// external eviction; the loop drains and deactivates after the current
	// message.
	shutdownFlag *atomic.Bool
	// externallyEvicted means the placement row was already reassigned:
	// the drain path must not delete the row.
	externallyEvicted *atomic.Bool

	// done is closed when the dispatch loop has fully deactivated.
	done chan struct{}
}

func newInstance(identity object.Identity, obj object.ServiceObject, mb mailbox, shutdownFlag *atomic.Bool) *instance {
	inst := &instance{
		identity:          identity,
		obj:               obj,
		mailbox:           mb,
		signal:            make(chan struct{}, 1),
		lifecycle:         atomic.NewInt32(lifecycleActivating),
		lastActivity:      atomic.NewTime(time.Now()),
		shutdownFlag:      shutdownFlag,
		externallyEvicted: atomic.NewBool(false),
		done:              make(chan struct{}),
	}
	return inst
}

// enqueue appends env and wakes the loop.
func (i *instance) enqueue(env *envelope) error {
	if err := i.mailbox.Enqueue(env); err != nil {
		return err
	}
	i.wake()
	return nil
}

func (i *instance) wake() {
	select {
	case i.signal <- struct{}{}:
	default:
	}
}
