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

// Package object defines the service-object programming surface: the hook
// interfaces an object may implement, the registry that maps type and
// message names to factories and handlers, the per-invocation Context, and
// the state storage contract used to rehydrate managed state.
package object

import "fmt"

// Identity is the (type name, id) pair that names a service object. It is
// globally unique across the cluster.
type Identity struct {
	TypeName string
	ID       string
}

// NewIdentity builds an Identity.
func NewIdentity(typeName, id string) Identity {
	return Identity{TypeName: typeName, ID: id}
}

// String returns the canonical "type/id" form used as a store key.
func (i Identity) String() string {
	return fmt.Sprintf("%s/%s", i.TypeName, i.ID)
}
