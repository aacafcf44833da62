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
	"reflect"
	"sync"
)

// AppData is a type-keyed container of shared handles (store adapters,
// configuration, API clients) supplied to every handler invocation. Values
// are keyed by their dynamic type; storing a second value of the same type
// replaces the first.
type AppData struct {
	mu     sync.RWMutex
	values map[reflect.Type]any
}

// NewAppData creates an empty AppData.
func NewAppData() *AppData {
	return &AppData{values: make(map[reflect.Type]any)}
}

// Set stores value under its dynamic type.
func (d *AppData) Set(value any) {
	d.mu.Lock()
	d.values[reflect.TypeOf(value)] = value
	d.mu.Unlock()
}

// Get retrieves the value stored under the given dynamic type.
func (d *AppData) Get(t reflect.Type) (any, bool) {
	d.mu.RLock()
	value, ok := d.values[t]
	d.mu.RUnlock()
	return value, ok
}

// GetAs retrieves the stored value of type T.
func GetAs[T any](d *AppData) (T, bool) {
	var zero T
	value, ok := d.Get(reflect.TypeOf(zero))
	if !ok {
		return zero, false
	}
	typed, ok := value.(T)
	return typed, ok
}
