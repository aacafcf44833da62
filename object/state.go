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

import "context"

// StateKind is the namespace under which the scheduler persists managed
// object state.
const StateKind = "managed"

// StateStorage is the contract the scheduler rehydrates and checkpoints
// managed state against. Implementations must provide read-your-writes
// within a single caller.
type StateStorage interface {
	// Load returns the persisted bytes for the given document, or nil when
	// none exist.
	Load(ctx context.Context, kind, typeName, id, stateName string) ([]byte, error)
	// Save persists the bytes for the given document, replacing any prior
	// value.
	Save(ctx context.Context, kind, typeName, id, stateName string, payload []byte) error
	// Delete removes every document persisted for (kind, typeName, id).
	Delete(ctx context.Context, kind, typeName, id string) error
}
