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

package object

import "time"

// ServiceObject is the marker interface every service object satisfies. A
// service object is a plain struct; behavior is declared through the
// optional hook interfaces below and through handlers registered on a
// Registry. Factories must return a pointer so handlers can mutate state.
type ServiceObject any

// BeforeLoader runs before managed state is loaded during activation. An
// error (or panic) aborts the activation and releases the placement row.
type BeforeLoader interface {
	BeforeLoad(ctx *Context) error
}

// AfterLoader runs after managed state has been loaded during activation.
// An error (or panic) aborts the activation and releases the placement row.
type AfterLoader interface {
	AfterLoad(ctx *Context) error
}

// BeforeShutdowner runs once during deactivation, after the mailbox has
// drained and before the placement row is released.
type BeforeShutdowner interface {
	BeforeShutdown(ctx *Context) error
}

// Ticker declares a periodic callback. Ticks are delivered as synthetic
// messages through the object's own mailbox, so a tick never runs
// concurrently with a handler.
type Ticker interface {
	TickInterval() time.Duration
	Tick(ctx *Context) error
}

// SubjectHandler receives pub/sub deliveries for subjects the object was
// subscribed to. Delivery is best-effort: a full mailbox drops the publish.
type SubjectHandler interface {
	OnPublish(ctx *Context, subject string, payload []byte) error
}

// ManagedState marks an object whose exported fields are persisted to the
// configured state storage and rehydrated on activation. StateName
// distinguishes multiple persisted documents per identity; a single-document
// object returns a constant.
type ManagedState interface {
	StateName() string
}
