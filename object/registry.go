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

	"github.com/vmihailenco/msgpack/v5"

	"github.com/arvo-run/arvo/errors"
)

// Factory constructs a fresh, default instance of a service object type.
// It must return a pointer.
type Factory func() ServiceObject

// Handler is the untyped dispatcher closure stored in the registry: it
// decodes the payload, invokes the typed handler, and encodes the result.
type Handler func(ctx *Context, obj ServiceObject, payload []byte) ([]byte, error)

type handlerKey struct {
	typeName    string
	messageType string
}

// Registry is the static table mapping type names to factories and
// (type, message) pairs to dispatcher closures. It is populated at startup
// and read on every dispatch; reads are lock-cheap.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	handlers  map[handlerKey]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		handlers:  make(map[handlerKey]Handler),
	}
}

// RegisterType binds a type name to its factory. Registering the same name
// twice replaces the factory.
func (r *Registry) RegisterType(typeName string, factory Factory) {
	r.mu.Lock()
	r.factories[typeName] = factory
	r.mu.Unlock()
}

// RegisterHandler binds a (type, message) pair to an untyped dispatcher.
// Most callers use the typed RegisterMessage instead.
func (r *Registry) RegisterHandler(typeName, messageType string, handler Handler) {
	r.mu.Lock()
	r.handlers[handlerKey{typeName: typeName, messageType: messageType}] = handler
	r.mu.Unlock()
}

// Factory returns the factory registered for typeName.
func (r *Registry) Factory(typeName string) (Factory, error) {
	r.mu.RLock()
	factory, ok := r.factories[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewUnknownType(typeName)
	}
	return factory, nil
}

// Handler returns the dispatcher registered for (typeName, messageType).
func (r *Registry) Handler(typeName, messageType string) (Handler, error) {
	r.mu.RLock()
	handler, ok := r.handlers[handlerKey{typeName: typeName, messageType: messageType}]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewUnknownMessage(typeName, messageType)
	}
	return handler, nil
}

// Types returns the registered type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// TypeNameOf derives the default wire name of an object: the bare struct
// name without package qualifier or pointer marker.
func TypeNameOf(obj ServiceObject) string {
	t := reflect.TypeOf(obj)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// RegisterMessage binds a typed handler for messages of type M returning R,
// wrapping it in a dispatcher that handles payload decoding and result
// encoding. O must be the pointer type produced by typeName's factory.
func RegisterMessage[O ServiceObject, M any, R any](r *Registry, typeName, messageType string, handle func(ctx *Context, obj O, msg *M) (*R, error)) {
	r.RegisterHandler(typeName, messageType, func(ctx *Context, obj ServiceObject, payload []byte) ([]byte, error) {
		typed, ok := obj.(O)
		if !ok {
			return nil, errors.NewUnknownMessage(typeName, messageType)
		}
		msg := new(M)
		if len(payload) > 0 {
			if err := msgpack.Unmarshal(payload, msg); err != nil {
				return nil, errors.NewUserError(err)
			}
		}
		result, err := handle(ctx, typed, msg)
		if err != nil {
			return nil, errors.NewUserError(err)
		}
		if result == nil {
			return nil, nil
		}
		return msgpack.Marshal(result)
	})
}
