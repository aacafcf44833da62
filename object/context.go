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

import (
	"context"

	"go.uber.org/atomic"
)

// Context is handed to every hook and handler invocation. It carries the
// request context, the object's identity, the node-wide AppData, and the
// self-shutdown switch.
type Context struct {
	ctx      context.Context
	identity Identity
	appData  *AppData
	shutdown *atomic.Bool
}

// NewContext builds an invocation context. The scheduler is the only
// producer; handlers and hooks are the consumers.
func NewContext(ctx context.Context, identity Identity, appData *AppData, shutdown *atomic.Bool) *Context {
	if shutdown == nil {
		shutdown = atomic.NewBool(false)
	}
	return &Context{
		ctx:      ctx,
		identity: identity,
		appData:  appData,
		shutdown: shutdown,
	}
}

// Context returns the underlying request context. Handlers pass it to every
// blocking call they make.
func (c *Context) Context() context.Context {
	return c.ctx
}

// Identity returns the identity of the object being invoked.
func (c *Context) Identity() Identity {
	return c.identity
}

// AppData returns the node-wide shared handle container.
func (c *Context) AppData() *AppData {
	return c.appData
}

// RequestShutdown marks the object for deactivation. The current message
// completes normally; queued messages are then drained with a
// shutting-down response and the placement row is released.
func (c *Context) RequestShutdown() {
	c.shutdown.Store(true)
}

// ShutdownRequested reports whether a handler asked for deactivation.
func (c *Context) ShutdownRequested() bool {
	return c.shutdown.Load()
}
